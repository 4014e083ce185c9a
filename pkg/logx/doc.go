// Package logx is the zerolog wrapper every crontrol component logs through.
//
// Components derive tagged loggers with With(String("comp", ...)). The console writer
// prints a short clock and caller; the optional file sink writes one JSON object per
// line. Level and sinks follow config hot reloads through Service.Apply.
package logx
