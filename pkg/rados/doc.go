// Package rados is a safe client layer over the native cluster library.
//
// The package exposes three central types. Cluster is a connection handle
// with an explicit lifecycle: configure it, connect it, open I/O contexts,
// shut it down. IOContext scopes object operations to one pool (and
// optionally a namespace or read snapshot). Completion tracks one
// asynchronous operation from submission to settlement.
//
// All native return codes are translated to structured errors by pkg/errors;
// raw errno values never escape this package.
package rados
