package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// RawBodyField holds the untouched body when no parser recognised it.
const RawBodyField = "raw_data"

// defaultMultipartMemory is the part of a multipart body kept in memory
// before file parts spill to temporary files.
const defaultMultipartMemory = 32 << 20

// Format tags which parser produced a payload.
type Format string

const (
	FormatJSON      Format = "json"
	FormatForm      Format = "form"
	FormatMultipart Format = "multipart"
	FormatRawJSON   Format = "raw-json"
	FormatRawForm   Format = "raw-form"
	FormatRaw       Format = "raw"
)

// RawFile is a file part received inline in a multipart body.
type RawFile struct {
	FieldName   string
	Filename    string
	ContentType string
	Content     io.ReadSeeker
}

// Payload is the canonical {fields, files} pair of one webhook body.
type Payload struct {
	Format Format
	Fields map[string]any
	Files  []RawFile

	closers []io.Closer
	form    *multipart.Form
}

// Close releases open file parts and any temporary files backing them.
func (p *Payload) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	if p.form != nil {
		if err := p.form.RemoveAll(); err != nil {
			errs = append(errs, err)
		}
		p.form = nil
	}
	return errors.Join(errs...)
}

func (p *Payload) empty() bool {
	return p == nil || (len(p.Fields) == 0 && len(p.Files) == 0)
}

// Normalizer turns request bodies of unknown encoding into Payloads.
type Normalizer struct {
	logger          *zap.Logger
	multipartMemory int64
	aliases         []Alias
	uploadMarker    string
}

type Option func(*Normalizer)

// WithMultipartMemory bounds the in-memory share of multipart bodies.
func WithMultipartMemory(n int64) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.multipartMemory = n
		}
	}
}

// WithUploadMarker changes the path marker that identifies hosted uploads
// during the file reference fallback scan.
func WithUploadMarker(marker string) Option {
	return func(nz *Normalizer) {
		if marker != "" {
			nz.uploadMarker = marker
		}
	}
}

func NewNormalizer(logger *zap.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		logger:          logger,
		multipartMemory: defaultMultipartMemory,
		aliases:         DefaultAliases(),
		uploadMarker:    "uploads/",
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// parseAttempt is one parser in the negotiation chain. ok is false when the
// parser did not recognise the body.
type parseAttempt struct {
	format Format
	parse  func(body []byte) (map[string]any, bool)
}

// Normalize never fails: a body no parser recognises is captured verbatim
// under RawBodyField.
func (n *Normalizer) Normalize(contentType string, body []byte) *Payload {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	var declared *Payload
	switch {
	case isJSONMediaType(mediaType):
		declared = n.run(parseAttempt{FormatJSON, parseJSONObject}, body)
	case mediaType == "application/x-www-form-urlencoded":
		declared = n.run(parseAttempt{FormatForm, parseForm}, body)
	case strings.HasPrefix(mediaType, "multipart/"):
		declared = n.parseMultipart(body, params["boundary"])
	}
	if !declared.empty() {
		return declared
	}
	if declared != nil {
		declared.Close()
		n.logger.Debug("Declared content type did not yield any field, sniffing body",
			zap.String("content_type", contentType))
	}

	for _, attempt := range []parseAttempt{
		{FormatRawJSON, parseJSONObject},
		{FormatRawForm, parseSniffedForm},
	} {
		if p := n.run(attempt, body); !p.empty() {
			return p
		}
	}

	n.logger.Warn("Unrecognised webhook payload, capturing raw body",
		zap.String("content_type", contentType),
		zap.Int("body_size", len(body)))
	return &Payload{
		Format: FormatRaw,
		Fields: map[string]any{RawBodyField: string(body)},
	}
}

func (n *Normalizer) run(attempt parseAttempt, body []byte) *Payload {
	fields, ok := attempt.parse(body)
	if !ok {
		n.logger.Debug("Parser did not match", zap.String("format", string(attempt.format)))
		return nil
	}
	return &Payload{Format: attempt.format, Fields: fields}
}

func (n *Normalizer) parseMultipart(body []byte, boundary string) *Payload {
	if boundary == "" {
		n.logger.Debug("Multipart body without boundary")
		return nil
	}
	form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(n.multipartMemory)
	if err != nil {
		n.logger.Debug("Failed to parse multipart body", zap.Error(err))
		return nil
	}

	p := &Payload{
		Format: FormatMultipart,
		Fields: valuesToFields(form.Value),
		form:   form,
	}

	names := make([]string, 0, len(form.File))
	for name := range form.File {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, fh := range form.File[name] {
			f, err := fh.Open()
			if err != nil {
				n.logger.Warn("Failed to open multipart file part",
					zap.String("field", name),
					zap.String("filename", fh.Filename),
					zap.Error(err))
				continue
			}
			p.closers = append(p.closers, f)
			p.Files = append(p.Files, RawFile{
				FieldName:   name,
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Content:     f,
			})
		}
	}
	return p
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func parseJSONObject(body []byte) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return fields, len(fields) > 0
}

func parseForm(body []byte) (map[string]any, bool) {
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil || len(values) == 0 {
		return nil, false
	}
	return valuesToFields(values), true
}

// parseSniffedForm only accepts bodies that are unambiguously key=value
// pairs, so free text is not mistaken for a single empty-valued key.
func parseSniffedForm(body []byte) (map[string]any, bool) {
	text := strings.TrimSpace(string(body))
	if text == "" || strings.ContainsAny(text, " \t\r\n") {
		return nil, false
	}
	for _, pair := range strings.Split(text, "&") {
		if pair == "" {
			continue
		}
		if k, _, found := strings.Cut(pair, "="); !found || k == "" {
			return nil, false
		}
	}
	return parseForm(body)
}

// valuesToFields keeps single values as strings and repeated keys as lists.
func valuesToFields(values map[string][]string) map[string]any {
	fields := make(map[string]any, len(values))
	for key, vals := range values {
		switch len(vals) {
		case 0:
			fields[key] = ""
		case 1:
			fields[key] = vals[0]
		default:
			fields[key] = append([]string(nil), vals...)
		}
	}
	return fields
}
