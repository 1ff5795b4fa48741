// Package docpkg opens Office Open XML document packages and rewrites text
// inside their XML parts without disturbing the rest of the archive.
//
// A package has one primary part (the main document body) and zero or more
// auxiliary custom XML data parts. Parts that are never written are copied
// into the saved archive byte for byte.
package docpkg

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	relTypeOfficeDocument = "/officeDocument"
	relTypeCustomXML      = "/customXml"

	packageRelsName    = "_rels/.rels"
	defaultPrimaryPart = "word/document.xml"
	xmlDeclaration     = `<?xml version="1.0" encoding="utf-8"?>`
	crlf               = "\r\n"
)

var (
	utf8BOM         = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM      = []byte{0xFF, 0xFE}
	utf16BEBOM      = []byte{0xFE, 0xFF}
	customXMLItemRe = regexp.MustCompile(`^customXml/item\d+\.xml$`)
)

// Part is a single XML part of a package, viewed as text.
type Part interface {
	// Name returns the part's path inside the package (e.g. "word/document.xml").
	Name() string
	// Text returns the part's current content.
	Text() (string, error)
	// SetText replaces the part's content. The text must be well-formed XML.
	SetText(text string) error
}

// Package is an opened, editable document package.
type Package interface {
	PrimaryPart() Part
	AuxiliaryParts() []Part
	Save() ([]byte, error)
}

// Compile-time check that OOXMLPackage implements Package.
var _ Package = (*OOXMLPackage)(nil)

// OOXMLPackage is an Office Open XML package opened for editing.
type OOXMLPackage struct {
	zr      *zip.Reader
	primary *xmlPart
	aux     []*xmlPart
}

// Open opens content as an OOXML package. The content is copied, so the
// caller's slice is never modified.
func Open(content []byte) (*OOXMLPackage, error) {
	if len(content) == 0 {
		return nil, corrupt("empty content")
	}
	buf := bytes.Clone(content)

	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, corrupt("not a zip archive: %v", err)
	}

	p := &OOXMLPackage{zr: zr}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	primaryName, err := p.locatePrimary(entries)
	if err != nil {
		return nil, err
	}
	primaryFile, ok := entries[primaryName]
	if !ok {
		return nil, corrupt("primary part %q is missing", primaryName)
	}
	p.primary = &xmlPart{file: primaryFile}

	text, err := p.primary.Text()
	if err != nil {
		return nil, corrupt("primary part %q is unreadable: %v", primaryName, err)
	}
	if err := checkWellFormed(text); err != nil {
		return nil, corrupt("primary part %q is not well-formed XML: %v", primaryName, err)
	}

	auxNames, err := p.locateAuxiliary(primaryName, entries)
	if err != nil {
		return nil, err
	}
	for _, name := range auxNames {
		p.aux = append(p.aux, &xmlPart{file: entries[name], declare: true})
	}

	return p, nil
}

// PrimaryPart returns the main document part.
func (p *OOXMLPackage) PrimaryPart() Part {
	return p.primary
}

// AuxiliaryParts returns the custom XML data parts related to the primary
// part, in relationship order.
func (p *OOXMLPackage) AuxiliaryParts() []Part {
	parts := make([]Part, len(p.aux))
	for i, a := range p.aux {
		parts[i] = a
	}
	return parts
}

// Save serializes the package. Entries keep their original order; entries
// whose parts were never written are copied without recompression.
func (p *OOXMLPackage) Save() ([]byte, error) {
	written := make(map[string][]byte)
	for _, part := range append([]*xmlPart{p.primary}, p.aux...) {
		if part.written {
			written[part.Name()] = part.encoded()
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range p.zr.File {
		data, ok := written[f.Name]
		if !ok {
			if err := zw.Copy(f); err != nil {
				return nil, &IOError{Op: "save", Part: f.Name, Err: err}
			}
			continue
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Comment:  f.Comment,
			Method:   f.Method,
			Modified: f.Modified,
		})
		if err != nil {
			return nil, &IOError{Op: "save", Part: f.Name, Err: err}
		}
		if _, err := w.Write(data); err != nil {
			return nil, &IOError{Op: "save", Part: f.Name, Err: err}
		}
	}
	if p.zr.Comment != "" {
		if err := zw.SetComment(p.zr.Comment); err != nil {
			return nil, &IOError{Op: "save", Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, &IOError{Op: "save", Err: err}
	}
	return buf.Bytes(), nil
}

func (p *OOXMLPackage) locatePrimary(entries map[string]*zip.File) (string, error) {
	relsFile, ok := entries[packageRelsName]
	if !ok {
		return defaultPrimaryPart, nil
	}
	rels, err := readRelationships(relsFile)
	if err != nil {
		return "", corrupt("%s: %v", packageRelsName, err)
	}
	for _, r := range rels {
		if r.internal() && strings.HasSuffix(r.Type, relTypeOfficeDocument) {
			return resolveTarget("", r.Target), nil
		}
	}
	return defaultPrimaryPart, nil
}

func (p *OOXMLPackage) locateAuxiliary(primary string, entries map[string]*zip.File) ([]string, error) {
	dir, file := path.Split(primary)
	relsFile, ok := entries[dir+"_rels/"+file+".rels"]
	if !ok {
		var names []string
		for _, f := range p.zr.File {
			if customXMLItemRe.MatchString(f.Name) {
				names = append(names, f.Name)
			}
		}
		return names, nil
	}

	rels, err := readRelationships(relsFile)
	if err != nil {
		return nil, corrupt("%s: %v", relsFile.Name, err)
	}
	var names []string
	seen := make(map[string]bool)
	for _, r := range rels {
		if !r.internal() || !strings.HasSuffix(r.Type, relTypeCustomXML) {
			continue
		}
		name := resolveTarget(dir, r.Target)
		if _, ok := entries[name]; !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

func (r relationship) internal() bool {
	return !strings.EqualFold(r.TargetMode, "External")
}

func readRelationships(f *zip.File) ([]relationship, error) {
	data, err := readEntry(f)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Relationships []relationship `xml:"Relationship"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Relationships, nil
}

// resolveTarget resolves a relationship target against the directory of the
// part owning the relationship. Absolute targets start at the package root.
func resolveTarget(dir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return strings.TrimPrefix(path.Clean(path.Join("/", dir, target)), "/")
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// checkWellFormed reports whether text parses as a single XML document.
func checkWellFormed(text string) error {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = true
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var roots, depth int
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if roots != 1 {
		return errors.New("document must have exactly one root element")
	}
	return nil
}

// xmlPart is a package entry viewed as UTF-8 text. UTF-16 entries are
// decoded on read and written back as UTF-8.
type xmlPart struct {
	file *zip.File

	// declare makes Text start with an XML declaration when the stored
	// content has none.
	declare bool

	loaded  bool
	bom     bool
	text    string
	written bool
}

func (x *xmlPart) Name() string {
	return x.file.Name
}

func (x *xmlPart) Text() (string, error) {
	if x.loaded {
		return x.text, nil
	}
	data, err := readEntry(x.file)
	if err != nil {
		return "", &IOError{Op: "read", Part: x.Name(), Err: err}
	}
	switch {
	case bytes.HasPrefix(data, utf16LEBOM), bytes.HasPrefix(data, utf16BEBOM):
		decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return "", &IOError{Op: "read", Part: x.Name(), Err: err}
		}
		// The declared encoding no longer matches once the text is UTF-8.
		x.text = withUTF8Declaration(string(decoded))
	case bytes.HasPrefix(data, utf8BOM):
		x.bom = true
		x.text = string(data[len(utf8BOM):])
	default:
		x.text = string(data)
	}
	if x.declare && !hasDeclaration(x.text) {
		x.text = xmlDeclaration + crlf + x.text
	}
	x.loaded = true
	return x.text, nil
}

func hasDeclaration(text string) bool {
	return strings.HasPrefix(strings.TrimLeft(text, " \t\r\n"), "<?xml ")
}

// withUTF8Declaration replaces the leading XML declaration of text, or adds
// one, so that it declares UTF-8.
func withUTF8Declaration(text string) string {
	if hasDeclaration(text) {
		rest := strings.TrimLeft(text, " \t\r\n")
		if end := strings.Index(rest, "?>"); end >= 0 {
			return xmlDeclaration + rest[end+len("?>"):]
		}
	}
	return xmlDeclaration + crlf + text
}

func (x *xmlPart) SetText(text string) error {
	if err := checkWellFormed(text); err != nil {
		return &IOError{Op: "write", Part: x.Name(), Err: err}
	}
	x.text = text
	x.loaded = true
	x.written = true
	return nil
}

func (x *xmlPart) encoded() []byte {
	if x.bom {
		return append(bytes.Clone(utf8BOM), x.text...)
	}
	return []byte(x.text)
}
