package generator

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardanlabs/ffi-bindgen/diag"
	cparser "github.com/ardanlabs/ffi-bindgen/parser"
)

func testdata(parts ...string) string {
	return filepath.Join(append([]string{"..", "testdata"}, parts...)...)
}

func extract(t *testing.T, table *cparser.Table, path string) *cparser.Module {
	t.Helper()

	include := []string{testdata("include"), testdata("scenarios")}
	m, err := cparser.NewExtractor(include, nil, table).Extract(context.Background(), path, "")
	require.NoError(t, err)

	return m
}

func generate(t *testing.T, g *Generator, table *cparser.Table, path string) (File, diag.List) {
	t.Helper()

	m := extract(t, table, path)
	f, diags, err := g.Module(m, nil)
	require.NoError(t, err)

	if table != nil {
		for _, d := range m.Decls {
			table.Register(m.Name, d)
		}
	}

	return f, diags
}

// parseGo parses generated source and fails the test when it is not valid Go.
func parseGo(t *testing.T, f File) *ast.File {
	t.Helper()

	file, err := parser.ParseFile(token.NewFileSet(), f.Name, f.Source, parser.ParseComments)
	require.NoError(t, err, string(f.Source))

	return file
}

// declared lists the package-level type and function names of a file.
func declared(file *ast.File) (types, funcs []string) {
	for _, d := range file.Decls {
		switch d := d.(type) {
		case *ast.GenDecl:
			for _, s := range d.Specs {
				if ts, ok := s.(*ast.TypeSpec); ok {
					types = append(types, ts.Name.Name)
				}
			}
		case *ast.FuncDecl:
			if d.Recv == nil {
				funcs = append(funcs, d.Name.Name)
			}
		}
	}
	return types, funcs
}

func newGenerator(library string) *Generator {
	return New(Config{Package: "bindings", Library: library})
}

func TestModuleHandle(t *testing.T) {
	f, diags := generate(t, newGenerator("foo"), nil, testdata("scenarios", "foo.h"))
	assert.Empty(t, diags)
	assert.Equal(t, "foo.go", f.Name)

	file := parseGo(t, f)
	assert.Equal(t, "bindings", file.Name.Name)

	types, funcs := declared(file)
	assert.Equal(t, []string{"FooHandle", "FooAPI", "NativeFooAPI"}, types)
	assert.Equal(t, []string{"ZeroFooHandle", "DangerousCreateFooHandle", "releaseFoo", "loadFooFuncs", "NewFooAPI"}, funcs)

	src := string(f.Source)
	assert.True(t, strings.HasPrefix(src, "// Code generated by ffi-bindgen. DO NOT EDIT.\n"))
	assert.Contains(t, src, "\tFooNew() (int32, *FooHandle)\n")
	assert.Contains(t, src, "\t// FooNew: Creates a new foo.\n")
	assert.Contains(t, src, "outHandle := DangerousCreateFooHandle(outOut, true)")
	assert.Contains(t, src, "outHandle.SetAPI(api.parent)")
	assert.Contains(t, src, "var _ FooAPI = (*NativeFooAPI)(nil)")
	assert.Contains(t, src, "\tParent() Foo\n")
}

func TestModuleRelease(t *testing.T) {
	f, _ := generate(t, newGenerator("foo"), nil, testdata("scenarios", "foo.h"))
	src := string(f.Source)

	assert.Contains(t, src, "native.NewHandle(addr, ownsHandle, releaseFoo)")
	assert.Contains(t, src, "releaseFooFunc.Call(nil, unsafe.Pointer(&addr))")
	assert.Contains(t, src, `releaseFooFunc, err = lib.Prep("foo_free", &ffi.TypeVoid, &ffi.TypePointer)`)
	assert.Contains(t, src, "\tFooFree(handle uintptr)\n")
}

func TestModuleDeterministic(t *testing.T) {
	path := testdata("include", "libimobiledevice", "libimobiledevice.h")

	first, _ := generate(t, newGenerator("imobiledevice"), nil, path)
	second, _ := generate(t, newGenerator("imobiledevice"), nil, path)

	assert.Equal(t, first.Source, second.Source)
}

func TestModuleSharedHandle(t *testing.T) {
	g := newGenerator("scenarios")
	table := cparser.NewTable()

	bar, _ := generate(t, g, table, testdata("scenarios", "bar.h"))
	baz, _ := generate(t, g, table, testdata("scenarios", "baz.h"))

	barTypes, _ := declared(parseGo(t, bar))
	bazTypes, _ := declared(parseGo(t, baz))

	assert.Contains(t, barTypes, "BarHandle")
	assert.NotContains(t, bazTypes, "BarHandle")
	assert.Contains(t, bazTypes, "BazHandle")

	src := string(baz.Source)
	assert.Contains(t, src, "\tBazNew(parent *BarHandle) (int32, *BazHandle)\n")
	assert.Contains(t, src, "\tBazUse(b *BarHandle, flags int32) int32\n")
	assert.Contains(t, src, "parentArg := parent.Addr()")
}

func TestModuleSkipsVariadic(t *testing.T) {
	m := extract(t, nil, testdata("scenarios", "logging.h"))

	f, diags, err := newGenerator("logging").Module(m, nil)
	require.NoError(t, err)
	assert.Empty(t, diags)

	skipped := m.Diagnostics.Filter(diag.Skipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "log_printf", skipped[0].Decl)
	assert.Contains(t, skipped[0].Message, "logging.h")

	src := string(f.Source)
	assert.NotContains(t, src, "LogPrintf")
	assert.Contains(t, src, "\tLogSetLevel(level int32) LogError\n")
	assert.Contains(t, src, "func (e LogError) Err() error {")
	assert.Contains(t, src, "\tif e == LogESuccess {")
	assert.Contains(t, src, "\tLogEInvalidArg LogError = -1\n")
}

func TestModuleSignatures(t *testing.T) {
	f, diags := generate(t, newGenerator("imobiledevice"), nil, testdata("include", "libimobiledevice", "libimobiledevice.h"))
	parseGo(t, f)

	src := string(f.Source)
	for _, want := range []string{
		"\tIdeviceNew(udid string) (IdeviceError, *IdeviceHandle)\n",
		"\tIdeviceConnect(device *IdeviceHandle, port uint16) (IdeviceError, *IdeviceConnectionHandle)\n",
		"\tIdeviceConnectionSend(connection *IdeviceConnectionHandle, data []byte, sentBytes uint32) (IdeviceError, uint32)\n",
		"\tIdeviceConnectionReceiveTimeout(connection *IdeviceConnectionHandle, data []byte, recvBytes uint32, timeout uint32) (IdeviceError, uint32)\n",
		"\tIdeviceGetUdid(device *IdeviceHandle) (IdeviceError, native.CString)\n",
	} {
		assert.Contains(t, src, want)
	}

	assert.Contains(t, src, "dataArg := native.BytesPtr(data)")
	assert.Contains(t, src, "lenArg := uint32(len(data))")
	assert.Contains(t, src, "return IdeviceError(rv), ")
	assert.Contains(t, src, "func (e IdeviceError) Error() string {")
	assert.Contains(t, src, "native.NewHandle(addr, ownsHandle, releaseIdevice)")

	var warned []string
	for _, d := range diags.Filter(diag.Warning) {
		warned = append(warned, d.Decl)
	}
	assert.Contains(t, warned, "idevice_get_device_list")
}

func TestModuleCollision(t *testing.T) {
	g := newGenerator("foo")

	m := extract(t, nil, testdata("scenarios", "foo.h"))
	_, _, err := g.Module(m, nil)
	require.NoError(t, err)

	other, err := cparser.NewExtractor(nil, nil, nil).Extract(context.Background(), testdata("scenarios", "foo.h"), "foo_copy")
	require.NoError(t, err)

	_, _, err = g.Module(other, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module foo_copy")
	assert.Contains(t, err.Error(), "already declared by")
}

func TestModuleReservedNames(t *testing.T) {
	g := newGenerator("foo")

	m := extract(t, nil, testdata("scenarios", "foo.h"))
	m.Name = "load"

	_, _, err := g.Module(m, nil)
	assert.NoError(t, err, "LoadAPI does not collide with Load")

	m.Name = "foo"
	g = New(Config{Package: "bindings", Library: "foo", Facade: "FooHandle"})
	_, _, err = g.Module(m, nil)
	assert.Error(t, err)
}

func TestLoader(t *testing.T) {
	f, err := newGenerator("imobiledevice").Loader([]string{"libimobiledevice", "lockdown"})
	require.NoError(t, err)
	assert.Equal(t, "loader.go", f.Name)

	parseGo(t, f)

	src := string(f.Source)
	assert.Contains(t, src, `const LibraryName = "imobiledevice"`)
	assert.Contains(t, src, "\t\"github.com/ardanlabs/ffi-bindgen/native\"\n")

	first := strings.Index(src, "loadLibimobiledeviceFuncs()")
	second := strings.Index(src, "loadLockdownFuncs()")
	require.Positive(t, first)
	assert.Less(t, first, second)
	assert.Contains(t, src, `fmt.Errorf("loading module lockdown: %w", err)`)
}

func TestLoaderRuntimeAlias(t *testing.T) {
	g := New(Config{Package: "bindings", Library: "foo", Runtime: "example.com/rt"})

	f, err := g.Loader([]string{"foo"})
	require.NoError(t, err)
	parseGo(t, f)

	assert.Contains(t, string(f.Source), "\tnative \"example.com/rt\"\n")
}

func TestFacade(t *testing.T) {
	g := newGenerator("imobiledevice")

	f, err := g.Facade([]string{"libimobiledevice", "lockdown"})
	require.NoError(t, err)
	assert.Equal(t, "imobiledevice.go", f.Name)

	types, funcs := declared(parseGo(t, f))
	assert.Equal(t, []string{"Imobiledevice", "NativeImobiledevice"}, types)
	assert.Equal(t, []string{"New"}, funcs)

	src := string(f.Source)
	assert.Contains(t, src, "\tLockdown() LockdownAPI\n")
	assert.Contains(t, src, "f.libimobiledevice = NewLibimobiledeviceAPI(f)")
	assert.Contains(t, src, "var _ Imobiledevice = (*NativeImobiledevice)(nil)")
}

func TestFacadeFileName(t *testing.T) {
	tests := []struct {
		library string
		modules []string
		want    string
	}{
		{"imobiledevice", []string{"lockdown"}, "imobiledevice.go"},
		{"plist", []string{"plist"}, "plist_facade.go"},
		{"loader", nil, "loader_facade.go"},
		{"plist-2.0", []string{"plist"}, "plist20.go"},
	}

	for _, tt := range tests {
		t.Run(tt.library, func(t *testing.T) {
			g := newGenerator(tt.library)
			assert.Equal(t, tt.want, g.FacadeFileName(tt.modules))
		})
	}
}

func TestNaming(t *testing.T) {
	got := map[string]string{}
	for _, in := range []string{"idevice_new", "lockdownd_get_device_udid", "plist_to_xml", "3d_point", "plist-2.0", "usb_ID", "profileID"} {
		got[in] = toGoName(in)
	}

	want := map[string]string{
		"idevice_new":               "IdeviceNew",
		"lockdownd_get_device_udid": "LockdowndGetDeviceUdid",
		"plist_to_xml":              "PlistToXML",
		"3d_point":                  "X3dPoint",
		"plist-2.0":                 "Plist20",
		"usb_ID":                    "USBID",
		"profileID":                 "ProfileID",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("toGoName mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "ideviceNew", toLowerCamel("idevice_new"))
	assert.Equal(t, "idValue", toLowerCamel("id_value"))
	assert.Equal(t, "url", toLowerCamel("url"))
	assert.Equal(t, "private", toLowerCamel("__private"))

	assert.Equal(t, "Idevice", typeName("idevice_t"))
	assert.Equal(t, "IdeviceConnectionHandle", handleName("idevice_connection_t"))
	assert.Equal(t, "idevice_free", ReleaseFuncName("idevice_t"))
}

func TestParamName(t *testing.T) {
	tests := map[string]string{
		"type":       "type_",
		"len":        "len_",
		"api":        "api_",
		"sent_bytes": "sentBytes",
		"":           "arg",
	}
	for in, want := range tests {
		assert.Equal(t, want, paramName(in), in)
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "lockdown.go", fileName("lockdown"))
	assert.Equal(t, "service_test_bindings.go", fileName("service_test"))
	assert.Equal(t, "usb_linux_bindings.go", fileName("usb_linux"))
	assert.Equal(t, "loader_module.go", fileName("loader"))
}

func TestConstValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"42", "42", true},
		{"0x10UL", "0x10", true},
		{`"2.0"`, `"2.0"`, true},
		{"1.5", "", false},
		{"FOO", "", false},
	}

	for _, tt := range tests {
		got, ok := constValue(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestModuleKeepAlive(t *testing.T) {
	f, _ := generate(t, newGenerator("edge"), nil, testdata("scenarios", "edge.h"))
	parseGo(t, f)
	src := string(f.Source)

	assert.Contains(t, src, "\t\"runtime\"\n")
	assert.Contains(t, src, "\topaqueUseFunc.Call(unsafe.Pointer(&rv), unsafe.Pointer(&oArg))\n\truntime.KeepAlive(o)\n\treturn int32(rv)\n")
	assert.Contains(t, src, "\truntime.KeepAlive(o)\n\truntime.KeepAlive(data)\n")
	assert.Contains(t, src, "\tpointMoveFunc.Call(unsafe.Pointer(&rv), unsafe.Pointer(&p), unsafe.Pointer(&dx))\n\truntime.KeepAlive(p)\n")

	lib, _ := generate(t, newGenerator("imobiledevice"), nil, testdata("include", "libimobiledevice", "libimobiledevice.h"))
	assert.Contains(t, string(lib.Source), "\truntime.KeepAlive(device)\n")

	foo, _ := generate(t, newGenerator("foo"), nil, testdata("scenarios", "foo.h"))
	assert.NotContains(t, string(foo.Source), "runtime.KeepAlive")
}

func TestModuleStructFallback(t *testing.T) {
	f, diags := generate(t, newGenerator("edge"), nil, testdata("scenarios", "edge.h"))
	types, _ := declared(parseGo(t, f))

	assert.NotContains(t, types, "Names")
	assert.Contains(t, types, "Point")

	src := string(f.Source)
	assert.Contains(t, src, "\tNamesFill(n uintptr) int32\n")
	assert.Contains(t, src, "\tPointMove(p *Point, dx int32) int32\n")
	assert.NotContains(t, src, "FFITypeNames")

	skipped := diags.Filter(diag.Skipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "names", skipped[0].Decl)
	assert.Contains(t, skipped[0].Message, "field items")

	var warned []string
	for _, d := range diags.Filter(diag.Warning) {
		warned = append(warned, d.Decl)
	}
	assert.Equal(t, []string{"names_fill"}, warned)
}

func TestModuleOpaqueStruct(t *testing.T) {
	f, _ := generate(t, newGenerator("edge"), nil, testdata("scenarios", "edge.h"))
	types, _ := declared(parseGo(t, f))
	assert.Contains(t, types, "OpaqueOnlyHandle")

	src := string(f.Source)
	assert.Contains(t, src, "// OpaqueOnlyHandle wraps the native struct opaque_only.\n")
	assert.Contains(t, src, "native.NewHandle(addr, ownsHandle, releaseOpaqueOnly)")
	assert.Contains(t, src, "\tOpaqueNew() (int32, *OpaqueOnlyHandle)\n")
	assert.Contains(t, src, "\tOpaqueUse(o *OpaqueOnlyHandle) int32\n")
	assert.Contains(t, src, "\tOpaqueSend(o *OpaqueOnlyHandle, data []byte) int32\n")
}

func TestModuleLocalNames(t *testing.T) {
	f, _ := generate(t, newGenerator("edge"), nil, testdata("scenarios", "edge.h"))
	parseGo(t, f)
	src := string(f.Source)

	assert.Contains(t, src, "\tEdgeSplit(xOut int32) (int32, native.CString)\n")
	assert.Contains(t, src, "\tvar xOut2 native.CString\n")
	assert.Contains(t, src, "\txPtr := &xOut2\n")
	assert.Contains(t, src, "\treturn int32(rv), xOut2\n")
}

func TestFresh(t *testing.T) {
	ids := idents{"edgeSplitFunc": true}

	assert.Equal(t, "xOut", ids.fresh("xOut"))
	assert.Equal(t, "xOut2", ids.fresh("xOut"))
	assert.Equal(t, "xOut3", ids.fresh("xOut"))
	assert.Equal(t, "edgeSplitFunc2", ids.fresh("edgeSplitFunc"))
}
