// Package device defines the contract between the shared camera manager and
// the platform camera drivers.
//
// A Driver opens a Handle for a Config. The handle is usable immediately but
// only reports IsRunning once frames are flowing, which is why the manager in
// package shared polls it before handing it to consumers. Drivers own the
// transport (a V4L2 pipe, a simulated frame loop) and expose two idempotent
// teardown primitives: Stop marks the device not running, CloseTransport
// frees whatever the driver opened.
package device
