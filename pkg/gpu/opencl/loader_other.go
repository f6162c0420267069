//go:build !linux && !darwin && !freebsd

package opencl

func loadLibrary() (uintptr, error) {
	return 0, ErrOpenCLNotAvailable
}

func registerFunctions(lib uintptr) {}
