// Package logx wraps zerolog for notifyd.
//
// Every component takes a logx.Logger and tags itself with
// With(logx.String("comp", name)). Loggers handed out by a Service follow
// Service.Apply, so a config reload can change level and sinks without
// re-wiring anything. Console lines carry the component as a "[comp]" prefix;
// the optional file sink is JSON, one event per line.
package logx
