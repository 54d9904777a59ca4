package decode

import (
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidPayload marks decoded text that cannot be interpreted as a
// student record. The scan session keeps sampling after this.
var ErrInvalidPayload = errors.New("qr payload has no usable index number")

// Payload is the structured record carried by a student QR code. Only the
// index number is required; the contact fields ride along for display.
type Payload struct {
	IndexNumber     string
	Name            string
	ParentTelephone string
	StudentEmail    string
	Address         string
}

// Bare identifiers: alphanumeric with the separators school index numbers
// actually use, e.g. "ST/2024/0113".
var indexNumberRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9/_-]{2,31}$`)

// ParsePayload interprets decoded QR text. Supported encodings, tried in
// order: a JSON object, a URL or URL-encoded query string carrying an
// indexNumber parameter, and a bare index number. Anything else is rejected
// with ErrInvalidPayload.
func ParsePayload(text string) (Payload, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Payload{}, ErrInvalidPayload
	}

	if strings.HasPrefix(text, "{") {
		if p, ok := parseJSON(text); ok {
			return p.normalize(), nil
		}
		return Payload{}, ErrInvalidPayload
	}

	if strings.Contains(text, "=") {
		if p, ok := parseQuery(text); ok {
			return p.normalize(), nil
		}
		return Payload{}, ErrInvalidPayload
	}

	if indexNumberRe.MatchString(text) {
		return Payload{IndexNumber: text}, nil
	}
	return Payload{}, ErrInvalidPayload
}

func parseJSON(text string) (Payload, bool) {
	var raw struct {
		IndexNumber     string `json:"indexNumber"`
		IndexNumberAlt  string `json:"index_number"`
		Name            string `json:"name"`
		ParentTelephone string `json:"parent_telephone"`
		StudentEmail    string `json:"student_email"`
		Address         string `json:"address"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Payload{}, false
	}
	index := raw.IndexNumber
	if index == "" {
		index = raw.IndexNumberAlt
	}
	if strings.TrimSpace(index) == "" {
		return Payload{}, false
	}
	return Payload{
		IndexNumber:     index,
		Name:            raw.Name,
		ParentTelephone: raw.ParentTelephone,
		StudentEmail:    raw.StudentEmail,
		Address:         raw.Address,
	}, true
}

// parseQuery handles both full URLs ("https://x/scan?indexNumber=ST1") and
// bare query strings ("indexNumber=ST1&name=A").
func parseQuery(text string) (Payload, bool) {
	var values url.Values
	if u, err := url.Parse(text); err == nil && u.RawQuery != "" {
		values = u.Query()
	} else if v, err := url.ParseQuery(text); err == nil {
		values = v
	} else {
		return Payload{}, false
	}

	index := values.Get("indexNumber")
	if index == "" {
		index = values.Get("index_number")
	}
	if strings.TrimSpace(index) == "" {
		return Payload{}, false
	}
	return Payload{
		IndexNumber:     index,
		Name:            values.Get("name"),
		ParentTelephone: values.Get("parent_telephone"),
		StudentEmail:    values.Get("student_email"),
		Address:         values.Get("address"),
	}, true
}

func (p Payload) normalize() Payload {
	p.IndexNumber = strings.TrimSpace(p.IndexNumber)
	p.Name = strings.TrimSpace(p.Name)
	p.ParentTelephone = strings.TrimSpace(p.ParentTelephone)
	p.StudentEmail = strings.TrimSpace(p.StudentEmail)
	p.Address = strings.TrimSpace(p.Address)
	return p
}
