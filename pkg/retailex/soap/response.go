package soap

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
)

// OutcomeKind is the classification of a single call attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFault
	OutcomeMalformed
	OutcomeTransportError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFault:
		return "fault"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeTransportError:
		return "transport_error"
	}
	return "unknown"
}

// Outcome is the result of exactly one attempt.
type Outcome struct {
	Kind      OutcomeKind
	Operation string
	// Body is the parsed content of soap:Body, wrapped in a synthetic <Body> element.
	Body *xmlquery.Node
	// Code and Reason are set for faults and malformed responses.
	Code   string
	Reason string
	// Transport carries the underlying error of a transport failure.
	Transport error
	// Raw is the response text after decompression, if any.
	Raw string
}

// Err converts a failed outcome into an error. It returns nil on success.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeTransportError:
		return &TransportError{Operation: o.Operation, Err: o.Transport}
	}
	return &FaultError{
		Operation: o.Operation,
		Code:      o.Code,
		Reason:    o.Reason,
		Malformed: o.Kind == OutcomeMalformed,
	}
}

const (
	codeUnknown = "unknown"
	codeParse   = "parse"
)

var (
	faultRegion   = regexp.MustCompile(`(?is)<soap:Fault>.*?</soap:Fault>`)
	bodyRegion    = regexp.MustCompile(`(?is)<soap:Body>(.*?)</soap:Body>`)
	verticalSpace = regexp.MustCompile(`[\n\v\f\r\x{85}\x{2028}\x{2029}]+`)
)

// Classify turns a raw reply into exactly one Outcome. It performs no I/O.
func Classify(operation string, raw []byte, transportErr error) Outcome {
	if transportErr != nil {
		return Outcome{Kind: OutcomeTransportError, Operation: operation, Transport: transportErr}
	}

	text := string(raw)
	fault, body, found := regions(text)

	if !found && len(raw) > 0 {
		if inflated, ok := gunzip(raw); ok {
			text = inflated
			fault, body, found = regions(text)
			if !found {
				body, found = text, true
			}
		}
	}

	switch {
	case fault != "":
		return classifyFault(operation, fault, text)
	case found && strings.TrimSpace(body) != "":
		node, err := parseBody(body)
		if err != nil {
			return Outcome{Kind: OutcomeMalformed, Operation: operation, Code: codeParse, Reason: err.Error(), Raw: text}
		}
		return Outcome{Kind: OutcomeSuccess, Operation: operation, Body: node, Raw: text}
	}

	return Outcome{
		Kind:      OutcomeMalformed,
		Operation: operation,
		Code:      codeUnknown,
		Reason:    fmt.Sprintf("unknown problem with the %s soap call", operation),
		Raw:       text,
	}
}

func regions(text string) (fault, body string, found bool) {
	if m := faultRegion.FindString(text); m != "" {
		return m, "", true
	}
	if m := bodyRegion.FindStringSubmatch(text); m != nil {
		return "", m[1], true
	}
	return "", "", false
}

func classifyFault(operation, fault, text string) Outcome {
	doc, err := xmlquery.Parse(strings.NewReader(strings.ReplaceAll(fault, "soap:", "")))
	if err != nil {
		return Outcome{Kind: OutcomeMalformed, Operation: operation, Code: codeParse, Reason: err.Error(), Raw: text}
	}

	var code, reason string
	if n := xmlquery.FindOne(doc, "//Code/Value"); n != nil {
		code = strings.TrimSpace(n.InnerText())
	}
	if n := xmlquery.FindOne(doc, "//Reason/Text"); n != nil {
		reason = strings.TrimSpace(n.InnerText())
	}
	reason = verticalSpace.ReplaceAllString(reason, ` \ `)

	return Outcome{Kind: OutcomeFault, Operation: operation, Code: code, Reason: reason, Raw: text}
}

// parseBody parses the body content inside a synthetic root carrying the
// envelope namespaces, so fragments with several top-level elements or
// prefixed names still parse.
func parseBody(body string) (*xmlquery.Node, error) {
	wrapped := `<Body xmlns:soap="` + EnvelopeNamespace + `" xmlns:ret="` + ServiceNamespace + `">` + body + `</Body>`
	doc, err := xmlquery.Parse(strings.NewReader(wrapped))
	if err != nil {
		return nil, err
	}
	root := doc.SelectElement("Body")
	if root == nil {
		return nil, fmt.Errorf("empty body")
	}
	return root, nil
}

func gunzip(raw []byte) (string, bool) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", false
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil || len(out) == 0 {
		return "", false
	}
	return string(out), true
}
