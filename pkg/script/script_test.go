// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package script

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

// mustSpec fetches an action spec that the catalog is known to carry
func mustSpec(t *testing.T, name string) *ActionSpec {
	t.Helper()
	spec, ok := ActionByName(name)
	if !ok {
		t.Fatalf("action %q missing from catalog", name)
	}
	return spec
}

// ============================================================
// Catalog Tests
// ============================================================

func TestCatalog_Lookups(t *testing.T) {
	spec := mustSpec(t, "delay")
	if spec.ID != 0xFB {
		t.Errorf("delay ID: 0x%02X", spec.ID)
	}
	if len(spec.Params) != 1 || spec.Params[0].Name != "duration" || spec.Params[0].Type != TypeUint32 {
		t.Errorf("delay schema: %+v", spec.Params)
	}

	byID, ok := ActionByID(0xFB)
	if !ok || byID != spec {
		t.Error("lookup by ID disagrees with lookup by name")
	}

	if _, ok := ActionByID(0xE7); ok {
		t.Error("unexpected catalog hit for unused ID")
	}
	if got := UnknownActionName(0xE7); got != "unknown_action_0xE7" {
		t.Errorf("placeholder name: %q", got)
	}
}

func TestCatalog_NameIDBijection(t *testing.T) {
	seenIDs := make(map[byte]string)
	for _, a := range actions {
		if prev, dup := seenIDs[a.ID]; dup {
			t.Errorf("ID 0x%02X claimed by both %q and %q", a.ID, prev, a.Name)
		}
		seenIDs[a.ID] = a.Name
	}
}

// ============================================================
// Semantic Conversion Tests
// ============================================================

func TestTimeOfDay_RoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		wire uint32
	}{
		{"14:05:09", 0xFF0E0509},
		{"00:00:00", 0xFF000000},
		{"23:59:59", 0xFF173B3B},
		{"now", 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			wire, err := encodeTimeOfDay(tt.in)
			if err != nil {
				t.Fatalf("encode error: %v", err)
			}
			if wire != tt.wire {
				t.Errorf("wire: 0x%08X, expected 0x%08X", wire, tt.wire)
			}
			if back := decodeTimeOfDay(wire); back != tt.in {
				t.Errorf("decode: %q", back)
			}
		})
	}

	// Empty string also means immediately, decodes canonically as "now".
	if wire, err := encodeTimeOfDay(""); err != nil || wire != 0xFFFFFFFF {
		t.Errorf("empty string: 0x%08X, %v", wire, err)
	}
	// Values without the 0xFF tag decode to their hex form.
	if got := decodeTimeOfDay(0x00001234); got != "0x00001234" {
		t.Errorf("untagged decode: %q", got)
	}
}

func TestTimeOfDay_EncodeErrors(t *testing.T) {
	for _, bad := range []string{"25:00:00", "12:60:00", "12:00:61", "noon"} {
		if _, err := encodeTimeOfDay(bad); err == nil {
			t.Errorf("%q: expected hard encode error", bad)
		}
	}
}

func TestIndexMask_Actuators(t *testing.T) {
	mask, err := encodeIndexMask([]interface{}{0.0, 3.0, 7.0}, 0)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if mask != 0x89 {
		t.Errorf("mask: 0x%02X, expected 0x89", mask)
	}
	if got := decodeIndexMask(0x89, 0); !reflect.DeepEqual(got, []int{0, 3, 7}) {
		t.Errorf("decode: %v", got)
	}
}

func TestIndexMask_ExternalLasers(t *testing.T) {
	mask, err := encodeIndexMask([]interface{}{1.0, 3.0}, 1)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if mask != 0x05 {
		t.Errorf("mask: 0x%02X, expected 0x05", mask)
	}
	if got := decodeIndexMask(0x05, 1); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("decode: %v", got)
	}
}

func TestIndexMask_OutOfRangeSkipped(t *testing.T) {
	mask, err := encodeIndexMask([]interface{}{0.0, 9.0}, 0)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if mask != 0x01 {
		t.Errorf("out-of-range index should be skipped, mask 0x%02X", mask)
	}
}

func TestEnums(t *testing.T) {
	if encodeRTCSource("obc_rtc") != 0 || encodeRTCSource("nanode_ntp") != 1 {
		t.Error("RTC source encode mismatch")
	}
	if encodeRTCSource("sundial") != 0 {
		t.Error("unknown RTC source should fall back to obc_rtc")
	}
	if decodeRTCSource(1) != "nanode_ntp" {
		t.Error("RTC source decode mismatch")
	}
	if decodeRTCSource(7) != "unknown(7)" {
		t.Errorf("unknown RTC decode: %v", decodeRTCSource(7))
	}

	if encodeResolution("Low") != 0 || encodeResolution("Half") != 1 || encodeResolution("Full") != 2 {
		t.Error("resolution encode mismatch")
	}
	if encodeResolution("8K") != 2 {
		t.Error("unknown resolution should fall back to Full")
	}
	if decodeResolution(1) != "Half" {
		t.Error("resolution decode mismatch")
	}
	if decodeResolution(9) != "unknown(9)" {
		t.Errorf("unknown resolution decode: %v", decodeResolution(9))
	}
}

// ============================================================
// Parameter Codec Tests
// ============================================================

func TestEncodeParams_NoParams(t *testing.T) {
	block, err := EncodeParams(mustSpec(t, "halt"), nil)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if !bytes.Equal(block, []byte{0x00}) {
		t.Errorf("parameterless action block: %X", block)
	}
}

func TestEncodeParams_Delay(t *testing.T) {
	block, err := EncodeParams(mustSpec(t, "delay"), map[string]interface{}{"duration": 5000.0})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	want := []byte{0x01, 0x03, 0x04, 0x88, 0x13, 0x00, 0x00}
	if !bytes.Equal(block, want) {
		t.Errorf("block: %X, expected %X", block, want)
	}
}

func TestEncodeParams_MissingParameter(t *testing.T) {
	_, err := EncodeParams(mustSpec(t, "delay"), map[string]interface{}{})
	if !errors.Is(err, ErrMissingParam) {
		t.Errorf("expected ErrMissingParam, got %v", err)
	}
}

func TestEncodeParams_RangeChecked(t *testing.T) {
	_, err := EncodeParams(mustSpec(t, "set_laser_intensity"), map[string]interface{}{"intensity": 256.0})
	if !errors.Is(err, ErrBadParamValue) {
		t.Errorf("expected ErrBadParamValue for uint8 overflow, got %v", err)
	}
}

func TestEncodeParams_NumericString(t *testing.T) {
	block, err := EncodeParams(mustSpec(t, "set_position"), map[string]interface{}{"position": "3"})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if !bytes.Equal(block, []byte{0x01, 0x01, 0x01, 0x03}) {
		t.Errorf("block: %X", block)
	}
}

func TestDecodeParams_RoundTrip(t *testing.T) {
	spec := mustSpec(t, "set_system")
	in := map[string]interface{}{
		"start":        "14:05:09",
		"release_time": "now",
		"lockin_time":  "00:30:00",
		"dls_interval": 60.0,
		"cam_interval": 120.0,
	}
	block, err := EncodeParams(spec, in)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	out := DecodeParams(spec, block)
	if out["start"] != "14:05:09" || out["release_time"] != "now" || out["lockin_time"] != "00:30:00" {
		t.Errorf("time fields: %v", out)
	}
	if out["dls_interval"] != uint64(60) || out["cam_interval"] != uint64(120) {
		t.Errorf("interval fields: %v", out)
	}
}

func TestDecodeParams_SchemaTypeWins(t *testing.T) {
	spec := mustSpec(t, "delay")
	// Wire claims uint16 but the schema says uint32 4-byte; the value is
	// still interpreted against the schema's field.
	block := []byte{0x01, 0x02, 0x04, 0x88, 0x13, 0x00, 0x00}
	out := DecodeParams(spec, block)
	if out["duration"] != uint64(5000) {
		t.Errorf("duration: %v", out["duration"])
	}
}

func TestDecodeParams_OddLengthFallsBack(t *testing.T) {
	spec := mustSpec(t, "delay")
	// Two value bytes for a uint32 field: little-endian integer fallback.
	block := []byte{0x01, 0x03, 0x02, 0x88, 0x13}
	out := DecodeParams(spec, block)
	if out["duration"] != uint64(5000) {
		t.Errorf("duration: %v", out["duration"])
	}
}

func TestDecodeParams_Truncated(t *testing.T) {
	spec := mustSpec(t, "set_system")
	full, err := EncodeParams(spec, map[string]interface{}{
		"start": "now", "release_time": "now", "lockin_time": "now",
		"dls_interval": 1.0, "cam_interval": 2.0,
	})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	// Cut mid-TLV; the walk keeps what it recovered.
	out := DecodeParams(spec, full[:8])
	if len(out) != 1 {
		t.Errorf("expected 1 recovered parameter, got %v", out)
	}
	if out["start"] != "now" {
		t.Errorf("start: %v", out["start"])
	}
}

func TestDecodeParams_EmptyValuePlaceholder(t *testing.T) {
	spec := mustSpec(t, "delay")
	block := []byte{0x01, 0x03, 0x00}
	out := DecodeParams(spec, block)
	if out["duration"] != "decode_error()" {
		t.Errorf("duration: %v", out["duration"])
	}
}

func TestDecodeParams_TrailingGarbageIgnored(t *testing.T) {
	spec := mustSpec(t, "delay")
	block := []byte{0x01, 0x03, 0x04, 0x88, 0x13, 0x00, 0x00, 0xDE, 0xAD}
	out := DecodeParams(spec, block)
	if out["duration"] != uint64(5000) {
		t.Errorf("duration: %v", out["duration"])
	}
}

// ============================================================
// Step Record Tests
// ============================================================

func TestStep_DelayWireLayout(t *testing.T) {
	params, err := EncodeParams(mustSpec(t, "delay"), map[string]interface{}{"duration": 5000.0})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	data := appendStep(nil, 1, 0xFB, params)

	want := []byte{
		0xEF, 0xBE, 0xAD, 0xDE, // step magic, little-endian
		0x01, 0x00, // step index 1
		0xFB,       // delay
		0x07,       // parameter block length
		0x01,       // one parameter
		0x03, 0x04, // uint32, 4 bytes
		0x88, 0x13, 0x00, 0x00, // 5000
	}
	if !bytes.Equal(data, want) {
		t.Errorf("step bytes:\n  got  %X\n  want %X", data, want)
	}

	ws, consumed, err := parseStep(data)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if consumed != len(data) || ws.index != 1 || ws.actionID != 0xFB {
		t.Errorf("parsed step: %+v, consumed %d", ws, consumed)
	}
}

func TestParseStep_BadMagic(t *testing.T) {
	data := appendStep(nil, 1, 0xFA, []byte{0x00})
	data[0] ^= 0xFF
	if _, _, err := parseStep(data); !errors.Is(err, ErrBadStepMagic) {
		t.Errorf("expected ErrBadStepMagic, got %v", err)
	}
}

func TestParseStep_Truncated(t *testing.T) {
	data := appendStep(nil, 1, 0xFB, []byte{0x01, 0x03, 0x04, 0x88, 0x13, 0x00, 0x00})
	if _, _, err := parseStep(data[:len(data)-2]); !errors.Is(err, ErrStepTruncated) {
		t.Errorf("expected ErrStepTruncated, got %v", err)
	}
}

// ============================================================
// Section Tests
// ============================================================

func TestSection_RoundTrip(t *testing.T) {
	steps := []Step{
		{Action: "set_laser_intensity", Parameters: map[string]interface{}{"intensity": 80.0}},
		{Action: "start_sample_cycle"},
		{Action: "delay", Parameters: map[string]interface{}{"duration": 5000.0}},
	}
	data, err := encodeSection(steps, DefaultVersion)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	// Header spot checks.
	if magic := binary.LittleEndian.Uint32(data); magic != SectionMagic {
		t.Errorf("magic: 0x%08X", magic)
	}
	if version := binary.LittleEndian.Uint16(data[4:]); version != DefaultVersion {
		t.Errorf("version: %d", version)
	}
	if count := binary.LittleEndian.Uint16(data[6:]); count != 3 {
		t.Errorf("step count: %d", count)
	}
	if crc := binary.LittleEndian.Uint16(data[8:]); crc != modfsp.CalculateCRC(data[:8]) {
		t.Error("header CRC mismatch")
	}
	if crc := binary.LittleEndian.Uint16(data[len(data)-2:]); crc != modfsp.CalculateCRC(data[:len(data)-2]) {
		t.Error("trailing CRC mismatch")
	}

	decoded, err := DecodeSection(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("decoded %d steps", len(decoded))
	}
	if decoded[0].Action != "set_laser_intensity" || decoded[0].Parameters["intensity"] != uint64(80) {
		t.Errorf("step 1: %+v", decoded[0])
	}
	if decoded[1].Action != "start_sample_cycle" {
		t.Errorf("step 2: %+v", decoded[1])
	}
	if decoded[2].Parameters["duration"] != uint64(5000) {
		t.Errorf("step 3: %+v", decoded[2])
	}
}

func TestSection_TrailingCRCCorruptionTolerated(t *testing.T) {
	data, err := encodeSection([]Step{{Action: "halt"}}, DefaultVersion)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	data[len(data)-1] ^= 0xFF

	decoded, err := DecodeSection(data)
	if err != nil {
		t.Fatalf("corrupted trailing CRC should decode with a warning: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Action != "halt" {
		t.Errorf("decoded steps: %+v", decoded)
	}
}

func TestSection_BadMagicFails(t *testing.T) {
	data, _ := encodeSection([]Step{{Action: "halt"}}, DefaultVersion)
	data[3] ^= 0xFF
	if _, err := DecodeSection(data); !errors.Is(err, ErrBadSectionMagic) {
		t.Errorf("expected ErrBadSectionMagic, got %v", err)
	}
}

func TestSection_StepLimit(t *testing.T) {
	steps := make([]Step, MaxSectionSteps+1)
	for i := range steps {
		steps[i] = Step{Action: "halt"}
	}
	if _, err := encodeSection(steps, DefaultVersion); !errors.Is(err, ErrTooManySteps) {
		t.Errorf("expected ErrTooManySteps, got %v", err)
	}
	if _, err := encodeSection(steps[:MaxSectionSteps], DefaultVersion); err != nil {
		t.Errorf("exactly %d steps must encode: %v", MaxSectionSteps, err)
	}
}

func TestSection_UnknownActionFailsCompile(t *testing.T) {
	_, err := encodeSection([]Step{{Action: "warp_drive"}}, DefaultVersion)
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}

func TestSection_OverrunStopsGracefully(t *testing.T) {
	data, err := encodeSection([]Step{
		{Action: "halt"},
		{Action: "delay", Parameters: map[string]interface{}{"duration": 1.0}},
	}, DefaultVersion)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	// Drop the trailing CRC and the last step's value bytes; the declared
	// step count now overruns the data.
	cut := data[:len(data)-6]
	decoded, err := DecodeSection(cut)
	if err != nil {
		t.Fatalf("overrun should end the section gracefully: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Action != "halt" {
		t.Errorf("decoded steps: %+v", decoded)
	}
}

// ============================================================
// Assembler Tests
// ============================================================

func testScript() *Script {
	return &Script{
		Init: Section{Steps: []Step{
			{Action: "set_system", Parameters: map[string]interface{}{
				"start":        "14:05:09",
				"release_time": "now",
				"lockin_time":  "now",
				"dls_interval": 60.0,
				"cam_interval": 120.0,
			}},
			{Action: "set_rtc", Parameters: map[string]interface{}{
				"source":   "nanode_ntp",
				"interval": 3600.0,
			}},
			{Action: "set_temp_profile", Parameters: map[string]interface{}{
				"target_temp":         2500.0,
				"min_temp":            2000.0,
				"max_temp":            3000.0,
				"ntc_primary":         0.0,
				"ntc_secondary":       1.0,
				"tec_actuator_num":    []interface{}{0.0, 3.0, 7.0},
				"heater_actuator_num": []interface{}{1.0},
				"tec_vol":             1200.0,
				"heater_duty":         50.0,
				"auto_recover":        1.0,
			}},
		}},
		DLSRoutine: Section{Steps: []Step{
			{Action: "set_laser_intensity", Parameters: map[string]interface{}{"intensity": 80.0}},
			{Action: "start_sample_cycle"},
			{Action: "delay", Parameters: map[string]interface{}{"duration": 5000.0}},
			{Action: "obc_get_sample"},
		}},
		CamRoutine: Section{Steps: []Step{
			{Action: "turn_on_ext_laser", Parameters: map[string]interface{}{"position": []interface{}{1.0, 3.0}}},
			{Action: "take_img_with_timeout"},
			{Action: "turn_off_ext_laser"},
		}},
	}
}

func imageFrameIDs(t *testing.T, img []byte) []byte {
	t.Helper()
	var ids []byte
	rest := img
	for len(rest) > 0 {
		frame, consumed, err := modfsp.ParseFrame(rest)
		if err != nil {
			t.Fatalf("image parse error: %v", err)
		}
		ids = append(ids, frame.ID())
		rest = rest[consumed:]
	}
	return ids
}

func TestAssemble_FullScript(t *testing.T) {
	img, err := Assemble(testScript(), DefaultVersion)
	if err != nil {
		t.Fatalf("assemble error: %v", err)
	}
	ids := imageFrameIDs(t, img)
	want := []byte{modfsp.FrameIDScriptInit, modfsp.FrameIDScriptDLS, modfsp.FrameIDScriptCam}
	if !bytes.Equal(ids, want) {
		t.Errorf("frame IDs: %X, expected %X", ids, want)
	}
}

func TestAssemble_EmptySectionSkipped(t *testing.T) {
	s := testScript()
	s.CamRoutine.Steps = nil

	img, err := Assemble(s, DefaultVersion)
	if err != nil {
		t.Fatalf("assemble error: %v", err)
	}
	ids := imageFrameIDs(t, img)
	want := []byte{modfsp.FrameIDScriptInit, modfsp.FrameIDScriptDLS}
	if !bytes.Equal(ids, want) {
		t.Errorf("frame IDs: %X, expected exactly two frames %X", ids, want)
	}

	back, err := Disassemble(img)
	if err != nil {
		t.Fatalf("disassemble error: %v", err)
	}
	if len(back.CamRoutine.Steps) != 0 {
		t.Errorf("camera routine should stay empty, got %+v", back.CamRoutine.Steps)
	}
	if len(back.Init.Steps) != 3 || len(back.DLSRoutine.Steps) != 4 {
		t.Errorf("section step counts: %d/%d", len(back.Init.Steps), len(back.DLSRoutine.Steps))
	}
}

func TestAssemble_Disassemble_RoundTrip(t *testing.T) {
	img, err := Assemble(testScript(), DefaultVersion)
	if err != nil {
		t.Fatalf("assemble error: %v", err)
	}
	back, err := Disassemble(img)
	if err != nil {
		t.Fatalf("disassemble error: %v", err)
	}

	init := back.Init.Steps
	if init[0].Parameters["start"] != "14:05:09" || init[0].Parameters["release_time"] != "now" {
		t.Errorf("set_system times: %v", init[0].Parameters)
	}
	if init[1].Parameters["source"] != "nanode_ntp" {
		t.Errorf("rtc source: %v", init[1].Parameters["source"])
	}
	if got := init[2].Parameters["tec_actuator_num"]; !reflect.DeepEqual(got, []int{0, 3, 7}) {
		t.Errorf("tec actuators: %v", got)
	}
	if got := init[2].Parameters["heater_actuator_num"]; !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("heater actuators: %v", got)
	}

	cam := back.CamRoutine.Steps
	if got := cam[0].Parameters["position"]; !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("ext laser positions: %v", got)
	}

	dls := back.DLSRoutine.Steps
	if dls[2].Parameters["duration"] != uint64(5000) {
		t.Errorf("delay duration: %v", dls[2].Parameters["duration"])
	}

	// A decompiled script must compile back to the identical image.
	img2, err := Assemble(back, DefaultVersion)
	if err != nil {
		t.Fatalf("reassemble error: %v", err)
	}
	if !bytes.Equal(img, img2) {
		t.Error("reassembled image differs from the original")
	}
}

func TestDisassemble_UnknownFrameSkipped(t *testing.T) {
	img, err := Assemble(testScript(), DefaultVersion)
	if err != nil {
		t.Fatalf("assemble error: %v", err)
	}
	// Prepend an unrelated frame; the disassembler must skip it.
	noise := modfsp.MustEncodeFrame(modfsp.CmdHalt, nil)
	back, err := Disassemble(append(noise, img...))
	if err != nil {
		t.Fatalf("disassemble error: %v", err)
	}
	if len(back.Init.Steps) != 3 {
		t.Errorf("init steps: %d", len(back.Init.Steps))
	}
}

func TestDisassemble_EmptyImage(t *testing.T) {
	if _, err := Disassemble([]byte{0x00, 0x01, 0x02}); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

// ============================================================
// Source File Tests
// ============================================================

func TestLoadSaveScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "experiment.json")

	if err := SaveScript(path, testScript()); err != nil {
		t.Fatalf("save error: %v", err)
	}
	loaded, err := LoadScript(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if len(loaded.Init.Steps) != 3 || len(loaded.DLSRoutine.Steps) != 4 || len(loaded.CamRoutine.Steps) != 3 {
		t.Errorf("loaded step counts: %d/%d/%d",
			len(loaded.Init.Steps), len(loaded.DLSRoutine.Steps), len(loaded.CamRoutine.Steps))
	}

	// JSON-loaded values (float64 numbers, []interface{} arrays) must
	// compile to the same image as the in-memory script.
	img1, err := Assemble(testScript(), DefaultVersion)
	if err != nil {
		t.Fatalf("assemble error: %v", err)
	}
	img2, err := loaded.Compile(DefaultVersion)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if !bytes.Equal(img1, img2) {
		t.Error("JSON round-trip changed the compiled image")
	}
}

func TestScript_Empty(t *testing.T) {
	if !(&Script{}).Empty() {
		t.Error("zero script should be empty")
	}
	if testScript().Empty() {
		t.Error("populated script should not be empty")
	}
}
