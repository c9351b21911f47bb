// # Go Client Package for Marketplace Voice/Video Calls
//
// This repository provides a Go package for embedding buyer/vendor voice and video calls into marketplace applications. It owns the call-session lifecycle: session creation through a signaling service, local microphone capture, joining the real-time media room, ring/missed-call timing, push and polling status reconciliation, and unconditional resource teardown on every exit path.
package callkit
