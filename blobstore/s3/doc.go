// Package s3 implements blobstore.Store on Amazon S3.
//
// Objects are written with the SDK upload manager, which switches to a
// multipart upload for large blobs. An object only becomes visible when the
// upload completes, so Create/Close is atomic per attempt.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "bucket", "index/")
//
// Several processes committing to one prefix need CommitStore, which moves
// the CURRENT pointer into a DynamoDB table with conditional writes:
//
//	store, err := s3.NewCommitStoreFromConfig(ctx, "bucket", "index/", "segmut-commits")
package s3
