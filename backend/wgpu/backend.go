// Package wgpu implements the shadercomp backend on the gogpu/wgpu HAL.
//
// Shader source is WGSL; it is compiled to SPIR-V with gogpu/naga and
// uploaded as a HAL shader module. Each dedicated context opens its own
// device so background compiles never touch the application's device,
// unless a shared device is injected with WithDeviceProvider.
//
// Importing this package registers the backend:
//
//	import _ "github.com/gogpu/shadercomp/backend/wgpu"
package wgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/shadercomp/gpu"
)

// Backend errors.
var (
	// ErrNoAdapter is returned when instance enumeration finds no GPU.
	ErrNoAdapter = errors.New("wgpu: no GPU adapters found")

	// ErrNoHAL is returned when no HAL backend is compiled in.
	ErrNoHAL = errors.New("wgpu: hal backend not available")

	// ErrBadProvider is returned when a device provider does not expose
	// HAL types.
	ErrBadProvider = errors.New("wgpu: provider does not expose HAL device and queue")
)

func init() {
	gpu.Register(gpu.BackendWGPU, func() gpu.Backend {
		if _, ok := hal.GetBackend(gputypes.BackendVulkan); !ok {
			return nil
		}
		return New()
	})
}

// halAPI creates HAL instances. It is satisfied by the backends
// returned from hal.GetBackend and by noop.API in tests.
type halAPI interface {
	CreateInstance(*hal.InstanceDescriptor) (hal.Instance, error)
}

// Backend compiles WGSL shaders on gogpu/wgpu HAL devices.
// Create instances with New; the zero value is not usable.
type Backend struct {
	api halAPI

	// Shared device injected by the host application. When set,
	// contexts wrap it instead of opening their own device.
	sharedMu     sync.Mutex
	sharedDevice hal.Device
	sharedQueue  hal.Queue
}

// Option configures a Backend during creation.
type Option func(*Backend)

// WithAPI overrides the HAL entry point used to create instances.
// Tests inject hal/noop here.
func WithAPI(api halAPI) Option {
	return func(b *Backend) {
		b.api = api
	}
}

// WithDeviceProvider makes all contexts share the host application's
// HAL device instead of opening their own. The provider must expose
// the underlying HAL types via HalDevice() any and HalQueue() any, the
// gpucontext bridging convention.
func WithDeviceProvider(provider gpucontext.DeviceProvider) Option {
	return func(b *Backend) {
		if err := b.setProvider(provider); err != nil {
			slogger().Warn("wgpu: ignoring device provider", "error", err)
		}
	}
}

// SetDeviceProvider installs a shared device after construction, for
// hosts that create their GPU device later than the backend.
func (b *Backend) SetDeviceProvider(provider any) error {
	return b.setProvider(provider)
}

// New creates a wgpu backend.
func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements gpu.Backend.
func (b *Backend) Name() string { return gpu.BackendWGPU }

func (b *Backend) setProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return ErrBadProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("%w: HalDevice is not hal.Device", ErrBadProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("%w: HalQueue is not hal.Queue", ErrBadProvider)
	}
	b.sharedMu.Lock()
	b.sharedDevice = device
	b.sharedQueue = queue
	b.sharedMu.Unlock()
	slogger().Debug("wgpu: using shared HAL device")
	return nil
}

// CreateContext implements gpu.Backend. With a shared device installed
// the context borrows it; otherwise a standalone instance and device
// are opened, preferring discrete over integrated adapters.
func (b *Backend) CreateContext() (gpu.Context, error) {
	b.sharedMu.Lock()
	shared := b.sharedDevice
	sharedQueue := b.sharedQueue
	b.sharedMu.Unlock()
	if shared != nil {
		return &Context{device: shared, queue: sharedQueue}, nil
	}

	api := b.api
	if api == nil {
		backend, ok := hal.GetBackend(gputypes.BackendVulkan)
		if !ok {
			return nil, ErrNoHAL
		}
		api = backend
	}

	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	slogger().Info("wgpu: opened compile device", "adapter", selected.Info.Name)
	return &Context{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		owned:    true,
	}, nil
}

// Compile implements gpu.Backend: WGSL through naga to SPIR-V, then a
// HAL shader module on the context's device.
func (b *Backend) Compile(ctx gpu.Context, name, source string) (gpu.Shader, error) {
	c, ok := ctx.(*Context)
	if !ok {
		return nil, fmt.Errorf("wgpu: foreign context %T", ctx)
	}
	if c.device == nil {
		return nil, gpu.ErrContextDestroyed
	}

	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile %s: %w", name, err)
	}

	// Convert bytes to uint32 slice for SPIR-V.
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	module, err := c.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  name,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: shader module %s: %w", name, err)
	}

	return &Shader{device: c.device, module: module}, nil
}

// RequiresFlush implements gpu.Backend. HAL command submission is
// explicit; there is no buffered state other contexts could miss.
func (b *Backend) RequiresFlush() bool { return false }

// Flush implements gpu.Backend.
func (b *Backend) Flush(gpu.Context) {}

// Context is a dedicated compile device. HAL devices are free-threaded,
// so goroutine binding is a no-op.
type Context struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	owned    bool
}

// Activate implements gpu.Context.
func (c *Context) Activate() {}

// Release implements gpu.Context.
func (c *Context) Release() {}

// Destroy implements gpu.Context. Shared devices are not destroyed; the
// host application owns them.
func (c *Context) Destroy() {
	if !c.owned {
		c.device = nil
		c.queue = nil
		return
	}
	if c.device != nil {
		c.device.Destroy()
		c.device = nil
	}
	if c.instance != nil {
		c.instance.Destroy()
		c.instance = nil
	}
	c.queue = nil
}

// Device returns the context's HAL device.
func (c *Context) Device() hal.Device { return c.device }

// Queue returns the context's HAL queue.
func (c *Context) Queue() hal.Queue { return c.queue }

// Shader is a compiled HAL shader module.
type Shader struct {
	device hal.Device
	module hal.ShaderModule
}

// Module returns the HAL shader module for pipeline creation.
func (s *Shader) Module() hal.ShaderModule { return s.module }

// Destroy implements gpu.Shader.
func (s *Shader) Destroy() {
	if s.module != nil {
		s.device.DestroyShaderModule(s.module)
		s.module = nil
	}
}
