package model

import (
	"net/url"
	"sort"
	"strings"
)

// MultiValueSeparator joins repeated inputs (e.g. checkbox groups) into one field value.
const MultiValueSeparator = ", "

// FormFields is the immutable, ordered set of non-control fields submitted with a form.
type FormFields struct {
	names  []string
	values map[string]string
}

// NewFormFields builds FormFields from parsed request values. Names listed in
// exclude (control fields such as the captcha answer) are dropped. Field order
// is the lexical order of the names so that echoes and logs are stable.
func NewFormFields(values url.Values, exclude ...string) *FormFields {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	f := &FormFields{values: make(map[string]string, len(values))}
	for name, vs := range values {
		if _, ok := skip[name]; ok {
			continue
		}
		f.names = append(f.names, name)
		f.values[name] = strings.Join(vs, MultiValueSeparator)
	}
	sort.Strings(f.names)
	return f
}

// Get returns the value of name and whether the field was submitted at all.
func (f *FormFields) Get(name string) (string, bool) {
	if f == nil {
		return "", false
	}
	v, ok := f.values[name]
	return v, ok
}

// Value returns the value of name, or "" when absent.
func (f *FormFields) Value(name string) string {
	v, _ := f.Get(name)
	return v
}

// Names returns the field names in order.
func (f *FormFields) Names() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Len returns the number of fields.
func (f *FormFields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.names)
}
