// Package opencl runs the SOM kernels on OpenCL devices.
//
// This implementation uses purego for FFI to dynamically load the OpenCL ICD
// loader, so binaries build without CGO and without OpenCL headers, and still
// run on machines that have no OpenCL runtime at all (IsAvailable reports
// false and callers pick another backend).
//
// Supported Platforms:
//   - Linux: Loads libOpenCL.so.1 (from the vendor ICD loader, ocl-icd, pocl)
//   - macOS: Loads the OpenCL framework
//
// Kernels are compiled from OpenCL C source at device creation; see
// kernels.go for the distance, argmin and update programs.
package opencl

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

// OpenCL constants
const (
	CL_SUCCESS                       = 0
	CL_DEVICE_NOT_FOUND              = -1
	CL_MEM_OBJECT_ALLOCATION_FAILURE = -4
	CL_OUT_OF_RESOURCES              = -5
	CL_OUT_OF_HOST_MEMORY            = -6
	CL_BUILD_PROGRAM_FAILURE         = -11
	CL_INVALID_WORK_GROUP_SIZE       = -54
	CL_INVALID_BUFFER_SIZE           = -61
	CL_PLATFORM_NOT_FOUND_KHR        = -1001

	CL_DEVICE_TYPE_CPU         = uint64(1 << 1)
	CL_DEVICE_TYPE_GPU         = uint64(1 << 2)
	CL_DEVICE_TYPE_ACCELERATOR = uint64(1 << 3)
	CL_DEVICE_TYPE_ALL         = uint64(0xFFFFFFFF)

	CL_DEVICE_MAX_COMPUTE_UNITS   = 0x1002
	CL_DEVICE_MAX_WORK_GROUP_SIZE = 0x1004
	CL_DEVICE_MAX_MEM_ALLOC_SIZE  = 0x1010
	CL_DEVICE_GLOBAL_MEM_SIZE     = 0x101F
	CL_DEVICE_LOCAL_MEM_SIZE      = 0x1023
	CL_DEVICE_NAME                = 0x102B
	CL_DEVICE_VENDOR              = 0x102C
	CL_PLATFORM_NAME              = 0x0902

	CL_PROGRAM_BUILD_LOG = 0x1183

	CL_KERNEL_PREFERRED_WORK_GROUP_SIZE_MULTIPLE = 0x11B3

	CL_MEM_READ_WRITE = uint64(1 << 0)
	CL_MEM_WRITE_ONLY = uint64(1 << 1)
	CL_MEM_READ_ONLY  = uint64(1 << 2)

	CL_TRUE = uint32(1)
)

// OpenCL handle types
type (
	clPlatform uintptr
	clDevice   uintptr
	clContext  uintptr
	clQueue    uintptr
	clProgram  uintptr
	clKernel   uintptr
	clMem      uintptr
)

// OpenCL function pointers (set by platform-specific code)
var (
	openclLib uintptr
	openclMu  sync.Mutex
	openclErr error

	clGetPlatformIDs          func(numEntries uint32, platforms *clPlatform, numPlatforms *uint32) int32
	clGetPlatformInfo         func(platform clPlatform, param uint32, size uintptr, value unsafe.Pointer, sizeRet *uintptr) int32
	clGetDeviceIDs            func(platform clPlatform, deviceType uint64, numEntries uint32, devices *clDevice, numDevices *uint32) int32
	clGetDeviceInfo           func(device clDevice, param uint32, size uintptr, value unsafe.Pointer, sizeRet *uintptr) int32
	clCreateContext           func(properties unsafe.Pointer, numDevices uint32, devices *clDevice, notify uintptr, userData uintptr, errcode *int32) clContext
	clCreateCommandQueue      func(context clContext, device clDevice, properties uint64, errcode *int32) clQueue
	clCreateProgramWithSource func(context clContext, count uint32, sources **byte, lengths *uintptr, errcode *int32) clProgram
	clBuildProgram            func(program clProgram, numDevices uint32, devices *clDevice, options string, notify uintptr, userData uintptr) int32
	clGetProgramBuildInfo     func(program clProgram, device clDevice, param uint32, size uintptr, value unsafe.Pointer, sizeRet *uintptr) int32
	clCreateKernel            func(program clProgram, name string, errcode *int32) clKernel
	clGetKernelWorkGroupInfo  func(kernel clKernel, device clDevice, param uint32, size uintptr, value unsafe.Pointer, sizeRet *uintptr) int32
	clSetKernelArg            func(kernel clKernel, index uint32, size uintptr, value unsafe.Pointer) int32
	clCreateBuffer            func(context clContext, flags uint64, size uintptr, hostPtr unsafe.Pointer, errcode *int32) clMem
	clEnqueueWriteBuffer      func(queue clQueue, buffer clMem, blocking uint32, offset uintptr, size uintptr, ptr unsafe.Pointer, numEvents uint32, events unsafe.Pointer, event unsafe.Pointer) int32
	clEnqueueReadBuffer       func(queue clQueue, buffer clMem, blocking uint32, offset uintptr, size uintptr, ptr unsafe.Pointer, numEvents uint32, events unsafe.Pointer, event unsafe.Pointer) int32
	clEnqueueNDRangeKernel    func(queue clQueue, kernel clKernel, workDim uint32, globalOffset *uintptr, globalSize *uintptr, localSize *uintptr, numEvents uint32, events unsafe.Pointer, event unsafe.Pointer) int32
	clFinish                  func(queue clQueue) int32
	clReleaseMemObject        func(mem clMem) int32
	clReleaseKernel           func(kernel clKernel) int32
	clReleaseProgram          func(program clProgram) int32
	clReleaseCommandQueue     func(queue clQueue) int32
	clReleaseContext          func(context clContext) int32
)

// Errors
var (
	ErrOpenCLNotAvailable = errors.New("opencl: OpenCL is not available (ICD loader not found)")
	ErrNoDevice           = errors.New("opencl: no OpenCL device found")
	ErrDeviceCreation     = errors.New("opencl: failed to create context or queue")
	ErrBuildFailed        = errors.New("opencl: program build failed")
	ErrBufferCreation     = errors.New("opencl: failed to create buffer")
	ErrKernelExecution    = errors.New("opencl: kernel execution failed")
	ErrInvalidBuffer      = errors.New("opencl: invalid buffer")
	ErrReleased           = errors.New("opencl: device released")
)

// initOpenCL loads the ICD loader once.
func initOpenCL() error {
	openclMu.Lock()
	defer openclMu.Unlock()

	if openclLib != 0 {
		return nil
	}
	if openclErr != nil {
		return openclErr
	}

	lib, err := loadLibrary()
	if err != nil {
		openclErr = err
		return err
	}
	openclLib = lib

	registerFunctions(lib)
	return nil
}

// statusError wraps a CL status code.
type statusError struct {
	op   string
	code int32
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s failed with CL status %d", e.op, e.code)
}

func check(op string, code int32) error {
	if code == CL_SUCCESS {
		return nil
	}
	return &statusError{op: op, code: code}
}

// Code extracts the CL status code from an error chain, or 0.
func Code(err error) int32 {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

// IsOutOfMemory reports whether err is a device allocation failure.
func IsOutOfMemory(err error) bool {
	switch Code(err) {
	case CL_MEM_OBJECT_ALLOCATION_FAILURE, CL_OUT_OF_RESOURCES, CL_OUT_OF_HOST_MEMORY, CL_INVALID_BUFFER_SIZE:
		return true
	}
	return false
}

// Info describes one OpenCL device.
type Info struct {
	Index        int
	Platform     string
	Name         string
	Vendor       string
	GPU          bool
	MemoryMB     int
	ComputeUnits int
	MaxWorkGroup int
	LocalMemory  int64
	MaxAlloc     int64
}

// IsAvailable checks whether an OpenCL runtime with at least one device is
// installed.
func IsAvailable() bool {
	devs, err := Devices()
	return err == nil && len(devs) > 0
}

type deviceRef struct {
	platform clPlatform
	device   clDevice
	gpu      bool
}

// enumerate lists GPUs first, then every other device type.
func enumerate() ([]deviceRef, error) {
	if err := initOpenCL(); err != nil {
		return nil, err
	}

	var count uint32
	if err := check("clGetPlatformIDs", clGetPlatformIDs(0, nil, &count)); err != nil {
		if Code(err) == CL_PLATFORM_NOT_FOUND_KHR {
			return nil, fmt.Errorf("%w: no ICD loader reported any platforms", ErrNoDevice)
		}
		return nil, err
	}
	if count == 0 {
		return nil, ErrNoDevice
	}
	platforms := make([]clPlatform, count)
	if err := check("clGetPlatformIDs", clGetPlatformIDs(count, &platforms[0], nil)); err != nil {
		return nil, err
	}

	var gpus, others []deviceRef
	for _, p := range platforms {
		for _, kind := range []uint64{CL_DEVICE_TYPE_GPU, CL_DEVICE_TYPE_CPU | CL_DEVICE_TYPE_ACCELERATOR} {
			var n uint32
			if code := clGetDeviceIDs(p, kind, 0, nil, &n); code != CL_SUCCESS || n == 0 {
				continue
			}
			ids := make([]clDevice, n)
			if code := clGetDeviceIDs(p, kind, n, &ids[0], nil); code != CL_SUCCESS {
				continue
			}
			for _, id := range ids {
				ref := deviceRef{platform: p, device: id, gpu: kind == CL_DEVICE_TYPE_GPU}
				if ref.gpu {
					gpus = append(gpus, ref)
				} else {
					others = append(others, ref)
				}
			}
		}
	}
	all := append(gpus, others...)
	if len(all) == 0 {
		return nil, ErrNoDevice
	}
	return all, nil
}

// Devices describes every OpenCL device, GPUs first.
func Devices() ([]Info, error) {
	refs, err := enumerate()
	if err != nil {
		return nil, err
	}
	out := make([]Info, len(refs))
	for i, ref := range refs {
		out[i] = describe(i, ref)
	}
	return out, nil
}

func describe(index int, ref deviceRef) Info {
	global := deviceUint64(ref.device, CL_DEVICE_GLOBAL_MEM_SIZE)
	return Info{
		Index:        index,
		Platform:     platformString(ref.platform, CL_PLATFORM_NAME),
		Name:         deviceString(ref.device, CL_DEVICE_NAME),
		Vendor:       deviceString(ref.device, CL_DEVICE_VENDOR),
		GPU:          ref.gpu,
		MemoryMB:     int(global / (1024 * 1024)),
		ComputeUnits: int(deviceUint32(ref.device, CL_DEVICE_MAX_COMPUTE_UNITS)),
		MaxWorkGroup: int(deviceSize(ref.device, CL_DEVICE_MAX_WORK_GROUP_SIZE)),
		LocalMemory:  int64(deviceUint64(ref.device, CL_DEVICE_LOCAL_MEM_SIZE)),
		MaxAlloc:     int64(deviceUint64(ref.device, CL_DEVICE_MAX_MEM_ALLOC_SIZE)),
	}
}

func deviceString(d clDevice, param uint32) string {
	var size uintptr
	if clGetDeviceInfo(d, param, 0, nil, &size) != CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if clGetDeviceInfo(d, param, size, unsafe.Pointer(&buf[0]), nil) != CL_SUCCESS {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00 ")
}

func platformString(p clPlatform, param uint32) string {
	var size uintptr
	if clGetPlatformInfo(p, param, 0, nil, &size) != CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	if clGetPlatformInfo(p, param, size, unsafe.Pointer(&buf[0]), nil) != CL_SUCCESS {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00 ")
}

func deviceUint32(d clDevice, param uint32) uint32 {
	var v uint32
	clGetDeviceInfo(d, param, unsafe.Sizeof(v), unsafe.Pointer(&v), nil)
	return v
}

func deviceUint64(d clDevice, param uint32) uint64 {
	var v uint64
	clGetDeviceInfo(d, param, unsafe.Sizeof(v), unsafe.Pointer(&v), nil)
	return v
}

func deviceSize(d clDevice, param uint32) uintptr {
	var v uintptr
	clGetDeviceInfo(d, param, unsafe.Sizeof(v), unsafe.Pointer(&v), nil)
	return v
}
