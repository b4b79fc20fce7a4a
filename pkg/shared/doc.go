// Package shared brokers a single camera between many in-process consumers.
//
// A Manager owns at most one device.Handle at a time. The first Acquire of an
// acquisition epoch opens the device and blocks until it streams frames;
// later acquirers share the same handle and their Config is ignored. The
// last Release stops the device and closes its transport. Close is the
// end-of-life safety net: it tears the device down no matter how many
// consumers forgot to release.
//
// Typical use:
//
//	lease, err := shared.Instance().Acquire(ctx, device.Config{Width: 1280, Height: 720, FrameRate: 30})
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//
//	frame, err := lease.CurrentFrame()
//
// Processes that prefer explicit wiring build one Manager with New and pass it
// to every consumer instead of calling Instance.
package shared
