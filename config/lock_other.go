//go:build !unix

package config

import "os"

func lockShared(*os.File) (func(), error)    { return func() {}, nil }
func lockExclusive(*os.File) (func(), error) { return func() {}, nil }
