package output

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestTableFormatterFormatsExplicitTable(t *testing.T) {
	table := &Table{
		Headers: []string{"NODE_ID", "STATUS"},
		Rows: [][]string{
			{"c1", "alive"},
			{"w1", "suspected"},
		},
	}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, table); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "NODE_ID") {
		t.Error("Format() missing header NODE_ID")
	}
	if !strings.Contains(out, "c1") {
		t.Error("Format() missing row data c1")
	}
}

func TestTableFormatterFormatsTableValue(t *testing.T) {
	table := Table{
		Headers: []string{"ROLE"},
		Rows:    [][]string{{"coordinator"}},
	}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, table); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.Contains(buf.String(), "coordinator") {
		t.Error("Format() missing data from a Table value (not pointer)")
	}
}

func TestTableFormatterHonorsNoHeaders(t *testing.T) {
	table := &Table{
		Headers: []string{"NODE_ID", "STATUS"},
		Rows:    [][]string{{"c1", "alive"}},
	}

	var buf bytes.Buffer
	f := &TableFormatter{NoHeaders: true}
	if err := f.Format(&buf, table); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "NODE_ID") {
		t.Error("Format() should not print headers when NoHeaders=true")
	}
	if !strings.Contains(out, "c1") {
		t.Error("Format() missing row data")
	}
}

func TestTableFormatterFormatsNil(t *testing.T) {
	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, nil); err != nil {
		t.Fatalf("Format(nil) error = %v", err)
	}
	if buf.Len() != 0 {
		t.Error("Format(nil) should produce empty output")
	}
}

// memberRow mirrors the shape cluster/members returns to fabrictl:
// a directory snapshot row per node, with an operator-only wide column.
type memberRow struct {
	NodeID  string `json:"node_id"`
	Role    string `json:"role"`
	Alive   bool   `json:"alive"`
	Address string `json:"address" table:"wide"`
}

func TestTableFormatterFormatsSliceOfStructs(t *testing.T) {
	data := []memberRow{
		{NodeID: "c1", Role: "coordinator", Alive: true, Address: "10.0.0.1:5443"},
		{NodeID: "w1", Role: "worker", Alive: false, Address: "10.0.0.2:5443"},
	}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "NODE_ID") {
		t.Error("Format() missing header")
	}
	if !strings.Contains(out, "c1") {
		t.Error("Format() missing row data")
	}
	if strings.Contains(out, "ADDRESS") {
		t.Error("Format() should not include wide-only field when Wide=false")
	}
}

func TestTableFormatterFormatsSliceOfStructsWide(t *testing.T) {
	data := []memberRow{
		{NodeID: "c1", Role: "coordinator", Alive: true, Address: "10.0.0.1:5443"},
	}

	var buf bytes.Buffer
	f := &TableFormatter{Wide: true}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "ADDRESS") {
		t.Error("Format() should include wide-only field when Wide=true")
	}
	if !strings.Contains(out, "10.0.0.1:5443") {
		t.Error("Format() missing wide field data")
	}
}

func TestTableFormatterFormatsEmptySlice(t *testing.T) {
	var data []memberRow

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if strings.Contains(buf.String(), "NODE_ID") {
		t.Error("Format() should not print headers for an empty slice")
	}
}

func TestTableFormatterFormatsMap(t *testing.T) {
	data := map[string]any{
		"status": "ok",
		"uptime": 42,
	}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "KEY") || !strings.Contains(out, "VALUE") {
		t.Error("Format() missing map headers")
	}
}

func TestTableFormatterFormatsClusterMembersJSON(t *testing.T) {
	// Mirrors the shape json.Unmarshal produces for cluster/members: a
	// []map[string]any, not a typed []memberRow, since fabrictl decodes
	// the RPC result generically.
	data := []map[string]any{
		{"node_id": "c1", "role": "coordinator", "status": "alive", "address": "10.0.0.1", "port": float64(5080), "services": []any{"system", "cluster"}},
		{"node_id": "w1", "role": "worker", "status": "suspected", "address": "10.0.0.2", "port": float64(5081), "services": []any{"system"}},
	}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "NODE_ID") || !strings.Contains(out, "ROLE") || !strings.Contains(out, "STATUS") {
		t.Errorf("Format() missing expected member columns, got:\n%s", out)
	}
	if strings.Contains(out, "SERVICES") {
		t.Error("Format() should hide the services column outside --wide")
	}
	if !strings.Contains(out, "5080") {
		t.Error("Format() should render an integral float port without a decimal point")
	}
	if strings.Contains(out, "5080.00") {
		t.Error("Format() rendered port as a decimal instead of an integer")
	}
}

func TestTableFormatterFormatsClusterMembersJSONWide(t *testing.T) {
	data := []map[string]any{
		{"node_id": "c1", "role": "coordinator", "services": []any{"system", "cluster"}},
	}

	var buf bytes.Buffer
	f := &TableFormatter{Wide: true}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "SERVICES") {
		t.Error("Format() should show the services column with --wide")
	}
	if !strings.Contains(out, "system, cluster") {
		t.Errorf("Format() should comma-join a short services list, got:\n%s", out)
	}
}

func TestTableFormatterFormatsMapsWithRaggedKeys(t *testing.T) {
	// A worker without any advertised services should still render a row
	// with a placeholder in that column rather than shifting other rows.
	data := []map[string]any{
		{"node_id": "c1", "role": "coordinator"},
		{"node_id": "w1", "role": "worker", "custom_field": "x"},
	}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "CUSTOM_FIELD") {
		t.Error("Format() should include a key present on only one record")
	}
	if !strings.Contains(out, "-") {
		t.Error("Format() should placeholder-fill a missing key on other records")
	}
}

type healthReport struct {
	Status string `json:"status"`
	Uptime int    `json:"uptime"`
}

func TestTableFormatterFormatsSingleStruct(t *testing.T) {
	data := healthReport{Status: "ok", Uptime: 123}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "FIELD") || !strings.Contains(out, "VALUE") {
		t.Error("Format() missing struct headers")
	}
	if !strings.Contains(out, "ok") || !strings.Contains(out, "123") {
		t.Error("Format() missing struct data")
	}
}

func TestTableFormatterFormatsPointerSlice(t *testing.T) {
	data := []*memberRow{
		{NodeID: "c1", Role: "coordinator"},
		{NodeID: "w1", Role: "worker"},
	}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "c1") || !strings.Contains(out, "w1") {
		t.Error("Format() missing pointer slice data")
	}
}

func TestTableRender(t *testing.T) {
	table := &Table{
		Headers: []string{"COL1", "COL2"},
		Rows: [][]string{
			{"a", "b"},
			{"c", "d"},
		},
	}

	var buf bytes.Buffer
	if err := table.Render(&buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("Render() lines = %d, want 3", len(lines))
	}
}

func TestTableRenderWithOptionsNoRows(t *testing.T) {
	table := &Table{
		Headers: []string{"COL1", "COL2"},
		Rows:    [][]string{},
	}

	var buf bytes.Buffer
	if err := table.RenderWithOptions(&buf, false); err != nil {
		t.Fatalf("RenderWithOptions() error = %v", err)
	}
	if !strings.Contains(buf.String(), "COL1") {
		t.Error("RenderWithOptions() missing headers")
	}
}

func TestTableAddRow(t *testing.T) {
	table := &Table{}
	table.AddRow("cell1", "cell2", "cell3")

	if len(table.Rows) != 1 {
		t.Errorf("AddRow() rows = %d, want 1", len(table.Rows))
	}
	if len(table.Rows[0]) != 3 {
		t.Errorf("AddRow() cols = %d, want 3", len(table.Rows[0]))
	}
}

func TestTableSetHeaders(t *testing.T) {
	table := &Table{}
	table.SetHeaders("H1", "H2", "H3")

	if len(table.Headers) != 3 {
		t.Errorf("SetHeaders() headers = %d, want 3", len(table.Headers))
	}
	if table.Headers[0] != "H1" {
		t.Errorf("SetHeaders() first header = %s, want H1", table.Headers[0])
	}
}

func TestFormatValue(t *testing.T) {
	testCases := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", "hello"},
		{"empty string", "", "-"},
		{"int", 42, "42"},
		{"int64", int64(123), "123"},
		{"uint", uint(99), "99"},
		{"float64", 3.14159, "3.14"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"empty slice", []int{}, "-"},
		{"slice", []int{1, 2, 3}, "1, 2, 3"},
		{"empty map", map[string]int{}, "-"},
		{"map", map[string]int{"a": 1}, "{1 keys}"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := formatValue(reflect.ValueOf(tc.input))
			if result != tc.expected {
				t.Errorf("formatValue(%v) = %q, want %q", tc.input, result, tc.expected)
			}
		})
	}
}

func TestFormatValueTime(t *testing.T) {
	tm := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)
	if result := formatValue(reflect.ValueOf(tm)); result != "2024-06-15 14:30" {
		t.Errorf("formatValue(time) = %q, want %q", result, "2024-06-15 14:30")
	}

	var zero time.Time
	if result := formatValue(reflect.ValueOf(zero)); result != "-" {
		t.Errorf("formatValue(zero time) = %q, want %q", result, "-")
	}
}

func TestFormatValuePointer(t *testing.T) {
	val := "10.0.0.1:5443"
	if result := formatValue(reflect.ValueOf(&val)); result != val {
		t.Errorf("formatValue(*string) = %q, want %q", result, val)
	}

	var nilPtr *string
	if result := formatValue(reflect.ValueOf(nilPtr)); result != "" {
		t.Errorf("formatValue(nil ptr) = %q, want empty", result)
	}
}

func TestFormatValueInterface(t *testing.T) {
	var iface any = "coordinator"
	if result := formatValue(reflect.ValueOf(&iface).Elem()); result != "coordinator" {
		t.Errorf("formatValue(interface) = %q, want %q", result, "coordinator")
	}

	var nilIface any
	if result := formatValue(reflect.ValueOf(&nilIface).Elem()); result != "" {
		t.Errorf("formatValue(nil interface) = %q, want empty", result)
	}
}

func TestFormatValueInvalid(t *testing.T) {
	var invalid reflect.Value
	if result := formatValue(invalid); result != "" {
		t.Errorf("formatValue(invalid) = %q, want empty", result)
	}
}

func TestToSnakeCase(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"Name", "Name"},
		{"NodeID", "Node_I_D"},
		{"HTTPServer", "H_T_T_P_Server"},
		{"already_snake", "already_snake"},
	}

	for _, tc := range testCases {
		if result := toSnakeCase(tc.input); result != tc.expected {
			t.Errorf("toSnakeCase(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

type challengeRow struct {
	NodeID string `json:"node_id"`
	Token  string `json:"-"`              // json:"-" doesn't affect table output
	Hidden string `json:"hidden" table:"-"` // table:"-" skips the field
}

func TestTableFormatterSkipsTableDashFields(t *testing.T) {
	data := []challengeRow{
		{NodeID: "w1", Token: "should-still-show", Hidden: "always hidden"},
	}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "HIDDEN") {
		t.Error(`Format() should skip table:"-" fields`)
	}
	if !strings.Contains(out, "w1") {
		t.Error("Format() missing visible field data")
	}
	if !strings.Contains(out, "TOKEN") {
		t.Error(`Format() json:"-" should not affect table output`)
	}
}

type nodeInfoWithUnexported struct {
	NodeID    string
	connCache string //nolint:unused
}

func TestTableFormatterSkipsUnexportedFields(t *testing.T) {
	data := []nodeInfoWithUnexported{{NodeID: "w1"}}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "NODE_I_D") {
		t.Error("Format() missing exported field")
	}
	if strings.Contains(out, "connCache") {
		t.Error("Format() should not include unexported fields")
	}
}

func TestTableFormatterFallsBackToJSONForUnsupportedTypes(t *testing.T) {
	data := make(chan int)

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Logf("Format(chan) error = %v (acceptable for an untabularizable type)", err)
	}
}

type directorySnapshotRow struct {
	Peers []string       `json:"peers"`
	Meta  map[string]int `json:"meta"`
}

func TestTableFormatterShowsNestedTypeCounts(t *testing.T) {
	data := []directorySnapshotRow{
		{Peers: []string{"c1", "w1", "w2", "w3", "w4", "w5", "w6"}, Meta: map[string]int{"generation": 1}},
	}

	var buf bytes.Buffer
	f := &TableFormatter{}
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[7 items]") {
		t.Error("Format() should show slice item count")
	}
	if !strings.Contains(out, "{1 keys}") {
		t.Error("Format() should show map key count")
	}
}
