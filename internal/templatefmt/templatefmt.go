package templatefmt

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"text/template"
)

// DefaultAlertMessage is used when alerts.message_template is not configured.
const DefaultAlertMessage = `{{ upper .SensorType }} {{ .NodeStatus }} on node {{ .NodeID }}: {{ fmtValue .Value }}{{ with .Unit }} {{ . }}{{ end }} (threshold {{ fmtValue .Threshold }})`

// AlertMessageData is the data passed to alert message templates.
type AlertMessageData struct {
	AlertID    string
	Severity   string
	StationID  string
	LineID     string
	NodeID     string
	NodeName   string
	SensorID   string
	SensorType string
	NodeStatus string
	Unit       string
	Value      *float64
	Threshold  *float64
}

// FuncMap returns shared alert template helpers.
// Params: none.
// Returns: helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtValue": FormatValue,
		"json":     MarshalJSON,
		"upper":    upper,
	}
}

// ParseAlertTemplate parses one alert message template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseAlertTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// ValidateAlertTemplate parses template and renders it against sample data.
// Params: template body.
// Returns: parse or execution error.
func ValidateAlertTemplate(body string) error {
	tpl, err := ParseAlertTemplate("validate", body)
	if err != nil {
		return err
	}
	value, threshold := 1.0, 1.0
	_, err = Render(tpl, AlertMessageData{
		AlertID:    "sample",
		Severity:   "medium",
		NodeID:     "node",
		SensorID:   "sensor",
		SensorType: "radar",
		NodeStatus: "warning",
		Value:      &value,
		Threshold:  &threshold,
	})
	return err
}

// Render executes template into a string.
// Params: compiled template and data.
// Returns: rendered text or execution error.
func Render(tpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatValue renders optional measurement value with up to three decimals.
// Params: float64, *float64, or other value.
// Returns: compact decimal string or "n/a" when value is absent.
func FormatValue(value any) string {
	var number float64
	switch typed := value.(type) {
	case float64:
		number = typed
	case *float64:
		if typed == nil {
			return "n/a"
		}
		number = *typed
	default:
		return "n/a"
	}
	return strconv.FormatFloat(number, 'f', -1, 64)
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}

func upper(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.ToUpper(typed)
	case interface{ String() string }:
		return strings.ToUpper(typed.String())
	default:
		encoded, _ := json.Marshal(typed)
		return strings.ToUpper(strings.Trim(string(encoded), `"`))
	}
}
