// Package object implements proxies for native-owned objects.
//
// A Proxy owns exactly one reference to a native object. Every method call is
// bracketed by an in-flight counter, so Destroy never frees the native object
// while a call through the same proxy is still running. The native free entry
// point runs exactly once, after the last in-flight call returns.
//
//	p, err := object.New(class, ctor, abi.Int64(start))
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	ret, err := p.Call(incr, object.BorrowHandle, nil)
//
// Objects crossing the boundary inside a buffer are written as 8-byte handles
// by Converter. ErrorConverter covers objects used as declared error types.
package object
