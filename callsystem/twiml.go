package callsystem

import (
	"encoding/xml"
	"fmt"
)

// SayElement is a TwiML <Say> verb.
type SayElement struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// ParameterElement is a custom parameter passed to the media stream's start
// message.
type ParameterElement struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

// StreamElement is a TwiML <Stream> noun.
type StreamElement struct {
	XMLName    xml.Name           `xml:"Stream"`
	URL        string             `xml:"url,attr"`
	Parameters []ParameterElement `xml:"Parameter"`
}

// ConnectElement is a TwiML <Connect> verb.
type ConnectElement struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  StreamElement
}

// ResponseElement is the TwiML document root.
type ResponseElement struct {
	XMLName xml.Name `xml:"Response"`
	Say     *SayElement
	Connect *ConnectElement
}

// MediaStreamTwiML returns a TwiML document that optionally speaks greeting
// and then connects the call to a bidirectional media stream at streamURL.
func MediaStreamTwiML(greeting, streamURL string, params map[string]string) (string, error) {
	resp := ResponseElement{
		Connect: &ConnectElement{Stream: StreamElement{URL: streamURL}},
	}
	if greeting != "" {
		resp.Say = &SayElement{Text: greeting}
	}
	for _, name := range sortedKeys(params) {
		if params[name] == "" {
			continue
		}
		resp.Connect.Stream.Parameters = append(resp.Connect.Stream.Parameters,
			ParameterElement{Name: name, Value: params[name]})
	}

	out, err := xml.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode twiml: %w", err)
	}
	return xml.Header + string(out), nil
}
