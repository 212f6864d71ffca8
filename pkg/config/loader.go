package config

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"

	"github.com/openfroyo/decom/pkg/engine"
)

//go:embed profiles/*.cue
var builtinProfiles embed.FS

// ValidationError is one problem found while loading a document.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var loc string
	if e.File != "" && e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	}
	if e.Path != "" {
		loc += e.Path + ": "
	}
	return loc + e.Message
}

// LoadError collects every validation problem of one source.
type LoadError struct {
	Source string
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Source, strings.Join(msgs, "; "))
}

// Loader reads decommissioning documents. A document is unified with the
// built-in CUE schema, decoded, then checked with struct validation.
type Loader struct {
	ctx      *cue.Context
	schema   cue.Value
	validate *validator.Validate
}

// NewLoader compiles the schema and registers the custom validators.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(documentSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile document schema: %w", err)
	}

	v := validator.New()
	if err := v.RegisterValidation("glob", validateGlob); err != nil {
		return nil, err
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return nil, err
	}
	if err := v.RegisterValidation("condition", validateCondition); err != nil {
		return nil, err
	}
	if err := v.RegisterValidation("filepath_root", validateFilePath); err != nil {
		return nil, err
	}
	v.RegisterStructValidation(validateConditionalTarget, ConditionalTarget{})

	return &Loader{
		ctx:      ctx,
		schema:   schema.LookupPath(cue.ParsePath("#Document")),
		validate: v,
	}, nil
}

// LoadFile loads a .cue file, or every .cue file of a directory as one package.
func (l *Loader) LoadFile(source string) (*Document, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", source, err)
	}

	var val cue.Value
	if info.IsDir() {
		insts := load.Instances([]string{"."}, &load.Config{Dir: source})
		if len(insts) == 0 {
			return nil, &LoadError{Source: source, Errors: []ValidationError{{File: source, Message: "no CUE files found"}}}
		}
		if insts[0].Err != nil {
			return nil, &LoadError{Source: source, Errors: convertCUEErrors(insts[0].Err)}
		}
		val = l.ctx.BuildInstance(insts[0])
	} else {
		content, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", source, err)
		}
		val = l.ctx.CompileBytes(content, cue.Filename(source))
	}
	return l.decode(source, val)
}

// LoadBytes loads a document from CUE source.
func (l *Loader) LoadBytes(name string, src []byte) (*Document, error) {
	return l.decode(name, l.ctx.CompileBytes(src, cue.Filename(name)))
}

// LoadProfile loads a built-in profile by name.
func (l *Loader) LoadProfile(name string) (*Document, error) {
	src, err := builtinProfiles.ReadFile(path.Join("profiles", name+".cue"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("unknown profile %q (available: %s)", name, strings.Join(Profiles(), ", "))
		}
		return nil, err
	}
	doc, err := l.LoadBytes(name+".cue", src)
	if err != nil {
		return nil, err
	}
	doc.Source = "builtin:" + name
	return doc, nil
}

// Profiles lists the built-in profile names.
func Profiles() []string {
	entries, err := fs.ReadDir(builtinProfiles, "profiles")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".cue"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (l *Loader) decode(source string, val cue.Value) (*Document, error) {
	if err := val.Err(); err != nil {
		return nil, &LoadError{Source: source, Errors: convertCUEErrors(err)}
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Source: source, Errors: convertCUEErrors(err)}
	}

	var doc Document
	if err := unified.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", source, err)
	}
	doc.Source = source

	if err := l.Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate runs struct validation and the conversions a run depends on.
// It also serves documents built in Go rather than loaded.
func (l *Loader) Validate(doc *Document) error {
	if err := l.validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		out := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, ValidationError{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed %q validation (value %v)", fe.Tag(), fe.Value()),
			})
		}
		return &LoadError{Source: doc.Source, Errors: out}
	}
	if _, err := doc.Profile.Knowledge(); err != nil {
		return &LoadError{Source: doc.Source, Errors: []ValidationError{{Path: "profile", Message: err.Error()}}}
	}
	if _, err := doc.Settings.EngineSettings(); err != nil {
		return &LoadError{Source: doc.Source, Errors: []ValidationError{{Path: "settings", Message: err.Error()}}}
	}
	return nil
}

// convertCUEErrors flattens a CUE error into positioned validation errors.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		v := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			v.File = pos[0].Filename()
			v.Line = pos[0].Line()
			v.Column = pos[0].Column()
		}
		out = append(out, v)
	}
	return out
}

func validateGlob(fl validator.FieldLevel) bool {
	_, err := glob.Compile(strings.ToLower(fl.Field().String()))
	return err == nil
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateCondition(fl validator.FieldLevel) bool {
	_, err := CompileCondition(fl.Field().String())
	return err == nil
}

// envRooted matches a path that starts with a whole %VAR% segment, which
// expands to a rooted directory on the host.
var envRooted = regexp.MustCompile(`^%[^%\\/]+%([\\/]|$)`)

func isFilePath(p string) bool {
	return envRooted.MatchString(p) || engine.IsRootedPath(p)
}

func validateFilePath(fl validator.FieldLevel) bool {
	return isFilePath(fl.Field().String())
}

func validateConditionalTarget(sl validator.StructLevel) {
	ct := sl.Current().Interface().(ConditionalTarget)
	if ct.Kind == string(engine.TargetFileTree) && ct.Path != "" && !isFilePath(ct.Path) {
		sl.ReportError(ct.Path, "Path", "path", "filepath_root", "")
	}
}
