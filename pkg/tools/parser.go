package tools

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	maxXMLSize       = 10 * 1024 * 1024 // 10MB limit for XML tool calls
	argumentsTagName = "arguments"
)

var toolRegex = regexp.MustCompile(`(?s)<tool>.*?</tool>`)

// ampersandEntityRegex matches ampersands that already start an XML entity.
var ampersandEntityRegex = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#\d+|#x[0-9a-fA-F]+);`)

// ToolCall is a tool invocation parsed from model output.
type ToolCall struct {
	XMLName   xml.Name       `xml:"tool"`
	ToolName  string         `xml:"tool_name"`
	Arguments ArgumentsBlock `xml:"arguments"`
}

// ArgumentsBlock holds the raw XML of the arguments element.
type ArgumentsBlock struct {
	InnerXML []byte `xml:",innerxml"`
}

// GetArgumentsXML returns the arguments wrapped in <arguments> tags.
func (tc *ToolCall) GetArgumentsXML() []byte {
	const prefix = "<arguments>"
	const suffix = "</arguments>"

	result := make([]byte, 0, len(prefix)+len(tc.Arguments.InnerXML)+len(suffix))
	result = append(result, prefix...)
	result = append(result, tc.Arguments.InnerXML...)
	result = append(result, suffix...)
	return result
}

// Invocation converts the call into an Invocation. Argument values are
// strings; Descriptor.Validate coerces them to the declared types.
func (tc *ToolCall) Invocation() (Invocation, error) {
	args, err := XMLToMap(tc.GetArgumentsXML())
	if err != nil {
		return Invocation{}, InvalidArguments("malformed arguments for %s: %v", tc.ToolName, err)
	}
	return Invocation{Tool: tc.ToolName, Args: args}, nil
}

// ParseToolCall extracts the first <tool> block from text. It returns the
// call and the text with every tool block removed.
func ParseToolCall(text string) (*ToolCall, string, error) {
	if len(text) > maxXMLSize {
		return nil, text, fmt.Errorf("tool call XML exceeds maximum size of %d bytes", maxXMLSize)
	}

	match := toolRegex.FindString(text)
	if match == "" {
		return nil, text, fmt.Errorf("no tool call found in text")
	}

	toolXML := strings.TrimSpace(match)

	var toolCall ToolCall
	if err := UnmarshalXMLWithFallback([]byte(toolXML), &toolCall); err != nil {
		snippet := toolXML
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, text, fmt.Errorf("failed to unmarshal tool call XML: %w\nXML snippet: %s", err, snippet)
	}

	toolCall.ToolName = strings.TrimSpace(toolCall.ToolName)
	if toolCall.ToolName == "" {
		return nil, text, fmt.Errorf("tool_name is required in tool call")
	}

	remaining := strings.TrimSpace(toolRegex.ReplaceAllString(text, ""))
	return &toolCall, remaining, nil
}

// ExtractThinkingAndToolCall splits text into the prose before the first
// tool call, the call itself and whatever follows it. Without a tool call
// the whole text is returned as thinking.
func ExtractThinkingAndToolCall(text string) (thinking string, toolCall *ToolCall, remaining string, err error) {
	loc := toolRegex.FindStringIndex(text)
	if loc == nil {
		return text, nil, "", nil
	}

	thinking = strings.TrimSpace(text[:loc[0]])
	remaining = strings.TrimSpace(text[loc[1]:])

	toolCall, _, err = ParseToolCall(text[loc[0]:loc[1]])
	if err != nil {
		return thinking, nil, remaining, err
	}
	return thinking, toolCall, remaining, nil
}

// HasToolCall checks if the text contains a tool call.
func HasToolCall(text string) bool {
	return toolRegex.MatchString(text)
}

// UnmarshalXMLWithFallback unmarshals XML, retrying once with bare
// ampersands escaped. Models routinely emit unescaped & in URLs.
func UnmarshalXMLWithFallback(data []byte, v interface{}) error {
	if err := xml.Unmarshal(data, v); err == nil {
		return nil
	}
	return xml.Unmarshal(escapeUnescapedAmpersands(data), v)
}

func escapeUnescapedAmpersands(data []byte) []byte {
	text := string(data)

	entityPositions := make(map[int]bool)
	for _, match := range ampersandEntityRegex.FindAllStringIndex(text, -1) {
		entityPositions[match[0]] = true
	}

	var result strings.Builder
	result.Grow(len(text) + 20)
	for i := 0; i < len(text); i++ {
		if text[i] == '&' && !entityPositions[i] {
			result.WriteString("&amp;")
		} else {
			result.WriteByte(text[i])
		}
	}
	return []byte(result.String())
}

// XMLToMap flattens the direct children of an <arguments> element into a
// map of element name to trimmed text.
func XMLToMap(data []byte) (map[string]interface{}, error) {
	result, err := xmlToMap(data)
	if err == nil {
		return result, nil
	}
	return xmlToMap(escapeUnescapedAmpersands(data))
}

func xmlToMap(data []byte) (map[string]interface{}, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	result := make(map[string]interface{})

	var currentPath []string
	var currentText strings.Builder

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			currentPath = append(currentPath, t.Name.Local)
			if len(currentPath) > 1 {
				currentText.Reset()
			}

		case xml.EndElement:
			if len(currentPath) == 0 {
				continue
			}
			elementName := currentPath[len(currentPath)-1]
			currentPath = currentPath[:len(currentPath)-1]

			if len(currentPath) == 1 && currentPath[0] == argumentsTagName {
				if text := strings.TrimSpace(currentText.String()); text != "" {
					result[elementName] = text
				}
			}
			currentText.Reset()

		case xml.CharData:
			currentText.Write(t)
		}
	}

	return result, nil
}
