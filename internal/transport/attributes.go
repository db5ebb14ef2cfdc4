package transport

import (
	"bytes"
	"encoding/xml"
	"html"
	"sort"
	"strings"
)

type xmlAttribute struct {
	XMLName xml.Name `xml:"attribute"`
	Name    string   `xml:"name"`
	Value   string   `xml:"value"`
}

// EncodeAttributeList renders the attributeList argument used by the
// deviceevent service.
func EncodeAttributeList(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	for _, k := range keys {
		out, err := xml.Marshal(xmlAttribute{Name: k, Value: attrs[k]})
		if err != nil {
			continue
		}
		b.Write(out)
	}
	return b.String()
}

// DecodeAttributeList parses an attributeList value. Devices sometimes send
// it entity-escaped a second time.
func DecodeAttributeList(s string) (map[string]string, error) {
	if strings.Contains(s, "&lt;") {
		s = html.UnescapeString(s)
	}

	var list struct {
		Attributes []xmlAttribute `xml:"attribute"`
	}
	if err := xml.Unmarshal([]byte("<attributeList>"+s+"</attributeList>"), &list); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(list.Attributes))
	for _, a := range list.Attributes {
		out[a.Name] = strings.TrimSpace(a.Value)
	}
	return out, nil
}
