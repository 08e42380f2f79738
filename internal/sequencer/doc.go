// Package sequencer stamps mutation packets with generations and tracks their
// completion.
//
// Push assigns the next generation and registers the packet under one lock, so
// no resolver can observe generation N before packet N is resolvable.
// Finished retires a packet and feeds its generation to FinishedSegments,
// which advances the completion watermark over the contiguous prefix of
// retired generations regardless of the order in which resolvers finish.
//
// WaitApplyAll and WaitApplyForMerge are blocking barriers used at commit and
// merge start. They cannot be cancelled.
package sequencer
