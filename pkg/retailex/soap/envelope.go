package soap

import "strings"

const (
	EnvelopeNamespace = "http://www.w3.org/2003/05/soap-envelope"
	ServiceNamespace  = "http://retailexpress.com.au/"
)

// Envelope is the request for a single call.
type Envelope struct {
	Operation string
	Header    Fields
	Body      Fields
}

// Render produces the full SOAP 1.2 document.
func (e Envelope) Render(b Builder) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	sb.WriteString(`<soap:Envelope xmlns:soap="` + EnvelopeNamespace + `" xmlns:ret="` + ServiceNamespace + `">`)
	sb.WriteString("<soap:Header><ret:ClientHeader>")
	sb.WriteString(b.Serialize(e.Header))
	sb.WriteString("</ret:ClientHeader></soap:Header>")
	sb.WriteString("<soap:Body><ret:" + e.Operation + ">")
	sb.WriteString(b.Serialize(e.Body))
	sb.WriteString("</ret:" + e.Operation + "></soap:Body>")
	sb.WriteString("</soap:Envelope>")
	return sb.String()
}
