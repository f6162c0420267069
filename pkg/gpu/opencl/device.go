package opencl

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

// Device owns one OpenCL context, an in-order command queue, the compiled
// SOM program and the buffer set for a single grid shape.
//
// Every enqueue is followed by a blocking read or clFinish before results
// are consumed, so the stage ordering distance -> argmin -> update holds
// without events.
type Device struct {
	mu sync.Mutex

	info    Info
	ref     deviceRef
	context clContext
	queue   clQueue
	program clProgram
	kernels map[string]clKernel
	limits  kernel.Limits

	shape     kernel.Shape
	grid      clMem
	query     clMem
	distances clMem
	partials  [2]clMem
	pairs     int
	current   int
	allocated int64
	released  bool
}

// NewDevice opens the device at index (as listed by Devices), creates a
// context and queue, and builds the kernels.
func NewDevice(index int) (*Device, error) {
	refs, err := enumerate()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(refs) {
		index = 0
	}
	ref := refs[index]

	d := &Device{
		info:    describe(index, ref),
		ref:     ref,
		kernels: make(map[string]clKernel, len(kernelNames)),
	}

	var code int32
	d.context = clCreateContext(nil, 1, &d.ref.device, 0, 0, &code)
	if code != CL_SUCCESS {
		return nil, fmt.Errorf("%w: %w", ErrDeviceCreation, check("clCreateContext", code))
	}
	d.queue = clCreateCommandQueue(d.context, d.ref.device, 0, &code)
	if code != CL_SUCCESS {
		d.releaseHandles()
		return nil, fmt.Errorf("%w: %w", ErrDeviceCreation, check("clCreateCommandQueue", code))
	}
	if err := d.build(); err != nil {
		d.releaseHandles()
		return nil, err
	}

	d.limits = kernel.Limits{
		MaxWorkGroupSize:           d.info.MaxWorkGroup,
		PreferredWorkGroupMultiple: d.preferredMultiple(),
		LocalMemBytes:              d.info.LocalMemory,
		GlobalMemBytes:             int64(d.info.MemoryMB) * 1024 * 1024,
		MaxAllocBytes:              d.info.MaxAlloc,
		ComputeUnits:               d.info.ComputeUnits,
	}
	return d, nil
}

func (d *Device) build() error {
	src := append([]byte(programSource), 0)
	srcPtr := &src[0]
	length := uintptr(len(programSource))

	var code int32
	d.program = clCreateProgramWithSource(d.context, 1, &srcPtr, &length, &code)
	runtime.KeepAlive(src)
	if code != CL_SUCCESS {
		return fmt.Errorf("%w: %w", ErrBuildFailed, check("clCreateProgramWithSource", code))
	}

	if code := clBuildProgram(d.program, 1, &d.ref.device, "", 0, 0); code != CL_SUCCESS {
		return fmt.Errorf("%w: %w\n%s", ErrBuildFailed, check("clBuildProgram", code), d.buildLog())
	}

	for _, name := range kernelNames {
		k := clCreateKernel(d.program, name, &code)
		if code != CL_SUCCESS {
			return fmt.Errorf("%w: kernel %s: %w", ErrBuildFailed, name, check("clCreateKernel", code))
		}
		d.kernels[name] = k
	}
	return nil
}

func (d *Device) buildLog() string {
	var size uintptr
	if clGetProgramBuildInfo(d.program, d.ref.device, CL_PROGRAM_BUILD_LOG, 0, nil, &size) != CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, size)
	clGetProgramBuildInfo(d.program, d.ref.device, CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil)
	return string(buf)
}

func (d *Device) preferredMultiple() int {
	var v uintptr
	k := d.kernels[kernelArgminDistances]
	if clGetKernelWorkGroupInfo(k, d.ref.device, CL_KERNEL_PREFERRED_WORK_GROUP_SIZE_MULTIPLE, unsafe.Sizeof(v), unsafe.Pointer(&v), nil) != CL_SUCCESS || v == 0 {
		return 1
	}
	return int(v)
}

// Name returns "<device> (<platform>)".
func (d *Device) Name() string {
	return fmt.Sprintf("%s (%s)", d.info.Name, d.info.Platform)
}

// Info returns the device description captured at open.
func (d *Device) Info() Info { return d.info }

// Limits returns the queried device limits.
func (d *Device) Limits() kernel.Limits { return d.limits }

// AllocatedBytes reports the size of the current buffer set.
func (d *Device) AllocatedBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// Allocate (re)creates the buffer set for shape with room for pairs
// reduction partials in each scratch buffer.
func (d *Device) Allocate(shape kernel.Shape, pairs int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	if !shape.Valid() || pairs < 1 {
		return fmt.Errorf("%w: shape %s, %d partials", ErrInvalidBuffer, shape, pairs)
	}

	d.releaseBuffers()

	sizes := []struct {
		dst   *clMem
		flags uint64
		bytes int64
	}{
		{&d.grid, CL_MEM_READ_WRITE, int64(shape.Floats()) * 4},
		{&d.query, CL_MEM_READ_ONLY, int64(shape.Dimension) * 4},
		{&d.distances, CL_MEM_READ_WRITE, int64(shape.Neurons()) * 4},
		{&d.partials[0], CL_MEM_READ_WRITE, int64(pairs) * kernel.PairBytes},
		{&d.partials[1], CL_MEM_READ_WRITE, int64(pairs) * kernel.PairBytes},
	}

	var total int64
	for _, s := range sizes {
		if d.limits.MaxAllocBytes > 0 && s.bytes > d.limits.MaxAllocBytes {
			d.releaseBuffers()
			return fmt.Errorf("%w: buffer of %d bytes exceeds max allocation %d", ErrBufferCreation, s.bytes, d.limits.MaxAllocBytes)
		}
		var code int32
		*s.dst = clCreateBuffer(d.context, s.flags, uintptr(s.bytes), nil, &code)
		if code != CL_SUCCESS {
			d.releaseBuffers()
			return fmt.Errorf("%w: %w", ErrBufferCreation, check("clCreateBuffer", code))
		}
		total += s.bytes
	}

	d.shape = shape
	d.pairs = pairs
	d.current = 0
	d.allocated = total
	return nil
}

func (d *Device) ready() error {
	if d.released {
		return ErrReleased
	}
	if d.grid == 0 {
		return ErrInvalidBuffer
	}
	return nil
}

func (d *Device) write(buf clMem, src []float32, want int) error {
	if err := d.ready(); err != nil {
		return err
	}
	if len(src) != want {
		return fmt.Errorf("%w: want %d floats, got %d", ErrInvalidBuffer, want, len(src))
	}
	code := clEnqueueWriteBuffer(d.queue, buf, CL_TRUE, 0, uintptr(len(src)*4), unsafe.Pointer(&src[0]), 0, nil, nil)
	runtime.KeepAlive(src)
	return check("clEnqueueWriteBuffer", code)
}

func (d *Device) read(buf clMem, dst unsafe.Pointer, bytes int) error {
	if err := d.ready(); err != nil {
		return err
	}
	return check("clEnqueueReadBuffer", clEnqueueReadBuffer(d.queue, buf, CL_TRUE, 0, uintptr(bytes), dst, 0, nil, nil))
}

// WriteGrid uploads the full weight grid.
func (d *Device) WriteGrid(src []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(d.grid, src, d.shape.Floats())
}

// ReadGrid downloads the full weight grid.
func (d *Device) ReadGrid(dst []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if len(dst) != d.shape.Floats() {
		return fmt.Errorf("%w: want %d floats, got %d", ErrInvalidBuffer, d.shape.Floats(), len(dst))
	}
	err := d.read(d.grid, unsafe.Pointer(&dst[0]), len(dst)*4)
	runtime.KeepAlive(dst)
	return err
}

// WriteQuery uploads the query vector.
func (d *Device) WriteQuery(src []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(d.query, src, d.shape.Dimension)
}

// ReadDistances downloads the distance buffer.
func (d *Device) ReadDistances(dst []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if len(dst) != d.shape.Neurons() {
		return fmt.Errorf("%w: want %d floats, got %d", ErrInvalidBuffer, d.shape.Neurons(), len(dst))
	}
	err := d.read(d.distances, unsafe.Pointer(&dst[0]), len(dst)*4)
	runtime.KeepAlive(dst)
	return err
}

// ReadPartials downloads the first len(dst) pairs of the current scratch
// buffer.
func (d *Device) ReadPartials(dst []kernel.Pair) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(dst) == 0 {
		return nil
	}
	if len(dst) > d.pairs {
		return fmt.Errorf("%w: %d partials allocated, %d requested", ErrInvalidBuffer, d.pairs, len(dst))
	}
	err := d.read(d.partials[d.current], unsafe.Pointer(&dst[0]), len(dst)*kernel.PairBytes)
	runtime.KeepAlive(dst)
	return err
}

// localBytes sizes a __local kernel argument.
type localBytes int

// args sets kernel arguments in order. Supported values: clMem, int32,
// float32 and localBytes.
func (d *Device) args(k clKernel, values ...any) error {
	for i, v := range values {
		var code int32
		switch x := v.(type) {
		case clMem:
			code = clSetKernelArg(k, uint32(i), unsafe.Sizeof(x), unsafe.Pointer(&x))
		case int32:
			code = clSetKernelArg(k, uint32(i), unsafe.Sizeof(x), unsafe.Pointer(&x))
		case float32:
			code = clSetKernelArg(k, uint32(i), unsafe.Sizeof(x), unsafe.Pointer(&x))
		case localBytes:
			code = clSetKernelArg(k, uint32(i), uintptr(x), nil)
		default:
			return fmt.Errorf("%w: unsupported kernel argument %T", ErrKernelExecution, v)
		}
		if code != CL_SUCCESS {
			return fmt.Errorf("%w: arg %d: %w", ErrKernelExecution, i, check("clSetKernelArg", code))
		}
	}
	return nil
}

// launch enqueues a 1D range. local == 0 lets the runtime pick.
func (d *Device) launch(k clKernel, global, local int) error {
	g := uintptr(global)
	var lp *uintptr
	if local > 0 {
		l := uintptr(local)
		lp = &l
	}
	if code := clEnqueueNDRangeKernel(d.queue, k, 1, nil, &g, lp, 0, nil, nil); code != CL_SUCCESS {
		return fmt.Errorf("%w: %w", ErrKernelExecution, check("clEnqueueNDRangeKernel", code))
	}
	return nil
}

// Distances runs distances_simple (lanes <= 1) or distances_chunked with
// one workgroup of lanes items per neuron.
func (d *Device) Distances(metric kernel.Metric, lanes int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}

	if lanes <= 1 {
		k := d.kernels[kernelDistancesSimple]
		if err := d.args(k, d.grid, d.query, d.distances, int32(d.shape.Neurons()), int32(d.shape.Dimension), int32(metric)); err != nil {
			return err
		}
		return d.launch(k, d.shape.Neurons(), 0)
	}

	k := d.kernels[kernelDistancesChunked]
	local := localBytes(lanes * 4)
	if err := d.args(k, d.grid, d.query, d.distances, int32(d.shape.Dimension), int32(metric), local, local, local); err != nil {
		return err
	}
	return d.launch(k, d.shape.Neurons()*lanes, lanes)
}

// ReduceDistances is stage 1 of the argmin.
func (d *Device) ReduceDistances(group int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return 0, err
	}
	n := d.shape.Neurons()
	groups := kernel.GroupCount(n, group)
	if groups > d.pairs {
		return 0, fmt.Errorf("%w: %d groups, scratch holds %d", ErrInvalidBuffer, groups, d.pairs)
	}

	k := d.kernels[kernelArgminDistances]
	if err := d.args(k, d.distances, d.partials[0], int32(n), localBytes(group*kernel.PairBytes)); err != nil {
		return 0, err
	}
	if err := d.launch(k, groups*group, group); err != nil {
		return 0, err
	}
	d.current = 0
	return groups, nil
}

// ReducePartials folds the first n partials into the other scratch buffer.
func (d *Device) ReducePartials(n, group int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return 0, err
	}
	if n < 1 || n > d.pairs {
		return 0, fmt.Errorf("%w: %d partials requested, %d allocated", ErrInvalidBuffer, n, d.pairs)
	}
	groups := kernel.GroupCount(n, group)

	k := d.kernels[kernelArgminPartials]
	if err := d.args(k, d.partials[d.current], d.partials[1-d.current], int32(n), localBytes(group*kernel.PairBytes)); err != nil {
		return 0, err
	}
	if err := d.launch(k, groups*group, group); err != nil {
		return 0, err
	}
	d.current = 1 - d.current
	return groups, nil
}

// Update runs update_neighborhood over the (2R+1)^2 window.
func (d *Device) Update(u kernel.Update) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	toroidal := int32(0)
	if u.Toroidal {
		toroidal = 1
	}
	k := d.kernels[kernelUpdate]
	if err := d.args(k,
		d.grid, d.query,
		int32(d.shape.Width), int32(d.shape.Height), int32(d.shape.Dimension),
		int32(u.X), int32(u.Y), int32(u.Radius),
		u.Sigma, u.LearnRate, toroidal,
	); err != nil {
		return err
	}
	side := u.Side()
	return d.launch(k, side*side, 0)
}

// Finish blocks until the queue drains.
func (d *Device) Finish() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	return check("clFinish", clFinish(d.queue))
}

// Release frees buffers, kernels, program, queue and context.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	if d.queue != 0 {
		clFinish(d.queue)
	}
	d.releaseBuffers()
	d.releaseHandles()
	return nil
}

func (d *Device) releaseBuffers() {
	for _, m := range []*clMem{&d.grid, &d.query, &d.distances, &d.partials[0], &d.partials[1]} {
		if *m != 0 {
			clReleaseMemObject(*m)
			*m = 0
		}
	}
	d.allocated = 0
}

func (d *Device) releaseHandles() {
	for name, k := range d.kernels {
		clReleaseKernel(k)
		delete(d.kernels, name)
	}
	if d.program != 0 {
		clReleaseProgram(d.program)
		d.program = 0
	}
	if d.queue != 0 {
		clReleaseCommandQueue(d.queue)
		d.queue = 0
	}
	if d.context != 0 {
		clReleaseContext(d.context)
		d.context = 0
	}
}
