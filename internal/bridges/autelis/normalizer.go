package autelis

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// statusDocument is the shape of GET /status.xml:
//
//	<response>
//	  <system>...</system>
//	  <equipment>...</equipment>
//	  <temp>...</temp>
//	</response>
type statusDocument struct {
	XMLName   xml.Name       `xml:"response"`
	System    *statusSection `xml:"system"`
	Equipment *statusSection `xml:"equipment"`
	Temp      *statusSection `xml:"temp"`
}

type statusSection struct {
	Elements []statusElement `xml:",any"`
}

type statusElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// Normalizer flattens a raw status document into a Snapshot keyed by
// canonical names.
type Normalizer struct {
	mapper *Mapper
	now    func() time.Time
}

// NewNormalizer returns a Normalizer that names fields through mapper.
func NewNormalizer(mapper *Mapper) *Normalizer {
	return &Normalizer{mapper: mapper, now: time.Now}
}

// Normalize decodes raw and returns a new Snapshot.
//
// All three sections must be present. Unknown elements are ignored;
// known elements that fail to decode fail the whole document with an
// error wrapping ErrDecode, so a partial snapshot is never produced.
func (n *Normalizer) Normalize(raw []byte) (*Snapshot, error) {
	var doc statusDocument
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = latin1Reader
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parsing status document: %w", ErrDecode, err)
	}

	sections := []struct {
		name    string
		section *statusSection
	}{
		{sectionSystem, doc.System},
		{sectionEquipment, doc.Equipment},
		{sectionTemp, doc.Temp},
	}

	fields := make(map[string]Value, len(fieldTable))
	for _, s := range sections {
		if s.section == nil {
			return nil, fmt.Errorf("%w: missing <%s> section", ErrDecode, s.name)
		}
		for _, el := range s.section.Elements {
			native := el.XMLName.Local
			spec, known := fieldTable[native]
			if !known || spec.section != s.name {
				continue
			}

			value, keep, err := spec.decode(el.Value)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", s.name, native, err)
			}
			if !keep {
				continue
			}

			key, ok := n.mapper.Key(native)
			if !ok {
				continue
			}
			fields[key] = value
		}
	}

	return NewSnapshot(fields, n.now()), nil
}

// latin1Reader lets the decoder accept documents declared as ISO-8859-1 or
// ASCII, which some controller firmware emits.
func latin1Reader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1", "us-ascii", "ascii":
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	raw, err := io.ReadAll(input)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(raw))
	for _, b := range raw {
		buf = utf8.AppendRune(buf, rune(b))
	}
	return bytes.NewReader(buf), nil
}
