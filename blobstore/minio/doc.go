// Package minio implements blobstore.Store on MinIO and other S3-compatible
// servers.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//		Creds: credentials.NewStaticV4(key, secret, ""),
//	})
//	store := minio.NewStore(client, "bucket", "index/")
package minio
