// Package gl implements the shadercomp backend on desktop OpenGL.
//
// Dedicated contexts are hidden GLFW windows sharing one object list,
// so textures and buffers compiled in the background are visible to
// the application's context. Fragment sources written against WebGL2
// GLSL ES can be translated to GLSL 330 with goshadertranslator before
// compiling.
//
// GLFW restricts window and context creation to the main thread:
// create the Manager (and submit the first request of each session)
// from the main goroutine. Worker goroutines only make the already
// created contexts current.
//
// Importing this package registers the backend:
//
//	import _ "github.com/gogpu/shadercomp/backend/gl"
package gl

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/go-gl/gl/v4.1-core/gl"
	glfw "github.com/go-gl/glfw/v3.3/glfw"
	gst "github.com/richinsley/goshadertranslator"

	"github.com/gogpu/shadercomp/gpu"
)

func init() {
	gpu.Register(gpu.BackendGL, func() gpu.Backend { return New() })
}

// vertexShaderSource is the fullscreen-triangle vertex stage every
// compiled fragment shader is linked against.
const vertexShaderSource = `#version 330 core
out vec2 uv;
void main() {
	vec2 pos = vec2(float((gl_VertexID << 1) & 2), float(gl_VertexID & 2));
	uv = pos;
	gl_Position = vec4(pos*2.0 - 1.0, 0.0, 1.0);
}
`

// Backend compiles fragment shaders into GL programs on hidden shared
// contexts. Create instances with New; the zero value is not usable.
type Backend struct {
	translate bool

	initOnce sync.Once
	initErr  error

	glOnce sync.Once
	glErr  error

	mu    sync.Mutex
	share *glfw.Window

	translatorOnce sync.Once
	translator     *gst.ShaderTranslator
	translatorErr  error
}

// Option configures a Backend during creation.
type Option func(*Backend)

// WithTranslation enables translating WebGL2 GLSL ES fragment sources
// to GLSL 330 before compiling.
func WithTranslation() Option {
	return func(b *Backend) {
		b.translate = true
	}
}

// New creates a GL backend.
func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements gpu.Backend.
func (b *Backend) Name() string { return gpu.BackendGL }

// ensureInit initializes GLFW once. Must run on the main thread.
func (b *Backend) ensureInit() error {
	b.initOnce.Do(func() {
		b.initErr = glfw.Init()
		if b.initErr == nil {
			slogger().Info("gl: glfw initialized")
		}
	})
	return b.initErr
}

// CreateContext implements gpu.Backend. The context is a hidden 1x1
// window sharing the object list of the first context this backend
// created.
func (b *Backend) CreateContext() (gpu.Context, error) {
	if err := b.ensureInit(); err != nil {
		return nil, fmt.Errorf("gl: glfw init: %w", err)
	}

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.Visible, glfw.False)

	b.mu.Lock()
	share := b.share
	b.mu.Unlock()

	win, err := glfw.CreateWindow(1, 1, "shadercomp", nil, share)
	if err != nil {
		return nil, fmt.Errorf("gl: create window: %w", err)
	}

	b.mu.Lock()
	if b.share == nil {
		b.share = win
	}
	b.mu.Unlock()

	return &Context{backend: b, window: win}, nil
}

// Compile implements gpu.Backend: the fragment source is linked with
// the builtin fullscreen vertex stage into a GL program. The context
// must be active on the calling goroutine.
func (b *Backend) Compile(ctx gpu.Context, name, source string) (gpu.Shader, error) {
	if _, ok := ctx.(*Context); !ok {
		return nil, fmt.Errorf("gl: foreign context %T", ctx)
	}

	frag := source
	if b.translate {
		translated, err := b.translateFragment(source)
		if err != nil {
			return nil, fmt.Errorf("gl: translate %s: %w", name, err)
		}
		frag = translated
	}

	program, err := newProgram(vertexShaderSource, frag)
	if err != nil {
		return nil, fmt.Errorf("gl: %s: %w", name, err)
	}
	return &Shader{program: program}, nil
}

// RequiresFlush implements gpu.Backend. GL buffers commands per
// context; without a flush the application's context may not observe
// objects compiled on the worker.
func (b *Backend) RequiresFlush() bool { return true }

// Flush implements gpu.Backend.
func (b *Backend) Flush(gpu.Context) { gl.Flush() }

// translateFragment runs the source through goshadertranslator,
// WebGL2 GLSL ES in, GLSL 330 out.
func (b *Backend) translateFragment(source string) (string, error) {
	b.translatorOnce.Do(func() {
		b.translator, b.translatorErr = gst.NewShaderTranslator(context.Background())
	})
	if b.translatorErr != nil {
		return "", b.translatorErr
	}
	out, err := b.translator.TranslateShader(source, "fragment", gst.ShaderSpecWebGL2, gst.OutputFormatGLSL330)
	if err != nil {
		return "", err
	}
	return out.Code, nil
}

// Context is a hidden GLFW window used as a compile context.
type Context struct {
	backend *Backend
	window  *glfw.Window
}

// Activate implements gpu.Context: locks the goroutine to its OS
// thread and makes the window's context current. GL function pointers
// are loaded on the first activation.
func (c *Context) Activate() {
	runtime.LockOSThread()
	c.window.MakeContextCurrent()
	c.backend.glOnce.Do(func() {
		c.backend.glErr = gl.Init()
		if c.backend.glErr != nil {
			slogger().Warn("gl: init failed", "error", c.backend.glErr)
		}
	})
}

// Release implements gpu.Context.
func (c *Context) Release() {
	glfw.DetachCurrentContext()
	runtime.UnlockOSThread()
}

// Destroy implements gpu.Context.
func (c *Context) Destroy() {
	b := c.backend
	b.mu.Lock()
	if b.share == c.window {
		b.share = nil
	}
	b.mu.Unlock()
	c.window.Destroy()
	c.window = nil
}

// Shader is a linked GL program. Destroy must be called with a context
// of the share group current.
type Shader struct {
	program uint32
}

// Program returns the GL program name.
func (s *Shader) Program() uint32 { return s.program }

// Destroy implements gpu.Shader.
func (s *Shader) Destroy() {
	if s.program != 0 {
		gl.DeleteProgram(s.program)
		s.program = 0
	}
}

func newProgram(vertexShaderSource, fragmentShaderSource string) (uint32, error) {
	vertexShader, err := compileShader(vertexShaderSource, gl.VERTEX_SHADER)
	if err != nil {
		return 0, err
	}
	fragmentShader, err := compileShader(fragmentShaderSource, gl.FRAGMENT_SHADER)
	if err != nil {
		gl.DeleteShader(vertexShader)
		return 0, err
	}

	program := gl.CreateProgram()
	gl.AttachShader(program, vertexShader)
	gl.AttachShader(program, fragmentShader)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		infoLog := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(infoLog))
		gl.DeleteShader(vertexShader)
		gl.DeleteShader(fragmentShader)
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("failed to link program: %v", infoLog)
	}

	gl.DeleteShader(vertexShader)
	gl.DeleteShader(fragmentShader)

	return program, nil
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		logText := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(logText))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("failed to compile shader: %v", logText)
	}
	return shader, nil
}
