package notify

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/dokzlo13/wemod/internal/engine"
)

type propertySet struct {
	Properties []struct {
		Values []struct {
			XMLName xml.Name
			Text    string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"property"`
}

// ParsePropertySet decodes a UPnP event body into attributes, in document
// order. Values that are themselves XML arrive as text and stay unparsed.
func ParsePropertySet(body []byte) ([]engine.Attribute, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var set propertySet
	if err := dec.Decode(&set); err != nil {
		return nil, err
	}

	var attrs []engine.Attribute
	for _, p := range set.Properties {
		for _, v := range p.Values {
			attrs = append(attrs, engine.Attribute{
				Name:  v.XMLName.Local,
				Value: strings.TrimSpace(v.Text),
			})
		}
	}
	return attrs, nil
}
