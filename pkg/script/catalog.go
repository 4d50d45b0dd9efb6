// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

// Package script compiles JSON experiment scripts into the CRC-protected
// binary sections the instrument executes, and decompiles captured binaries
// back to source. The action catalog below is the single source of truth
// for action IDs and parameter schemas.
package script

import "fmt"

// ParamType is the wire type tag of a TLV parameter record
type ParamType byte

// TLV wire types. All values are little-endian.
const (
	TypeUint8   ParamType = 0x01
	TypeUint16  ParamType = 0x02
	TypeUint32  ParamType = 0x03
	TypeFloat32 ParamType = 0x04
	// TypeString is defined by the wire format but rejected by the codec;
	// no shipped action uses it.
	TypeString ParamType = 0x05
)

// Size returns the encoded value width in bytes, or -1 for variable types
func (t ParamType) Size() int {
	switch t {
	case TypeUint8:
		return 1
	case TypeUint16:
		return 2
	case TypeUint32, TypeFloat32:
		return 4
	default:
		return -1
	}
}

// semantic selects the JSON-value conversion applied to a field beyond the
// plain integer coercion
type semantic int

const (
	semNone semantic = iota
	semTimeOfDay
	semActuatorMask
	semExtLaserMask
	semRTCSource
	semResolution
)

// Param is one entry of an action's ordered parameter schema
type Param struct {
	Name string
	Type ParamType
	sem  semantic
}

// ActionSpec describes one script action: its name, wire ID, and ordered
// parameter schema
type ActionSpec struct {
	Name   string
	ID     byte
	Params []Param
}

func p(name string, t ParamType) Param            { return Param{Name: name, Type: t} }
func ps(name string, t ParamType, s semantic) Param { return Param{Name: name, Type: t, sem: s} }

var actions = []ActionSpec{
	// System actions
	{Name: "halt", ID: 0xFA},
	{Name: "delay", ID: 0xFB, Params: []Param{p("duration", TypeUint32)}},
	{Name: "jmp", ID: 0xFC, Params: []Param{p("step_id", TypeUint16)}},
	{Name: "please_reset", ID: 0xFD},
	{Name: "clear_profile", ID: 0xFF, Params: []Param{p("run_limit_count", TypeUint16)}},
	{Name: "test_connection", ID: 0x00, Params: []Param{p("value", TypeUint32)}},

	// Configuration actions
	{Name: "set_system", ID: 0x01, Params: []Param{
		ps("start", TypeUint32, semTimeOfDay),
		ps("release_time", TypeUint32, semTimeOfDay),
		ps("lockin_time", TypeUint32, semTimeOfDay),
		p("dls_interval", TypeUint32),
		p("cam_interval", TypeUint32),
	}},
	{Name: "set_rtc", ID: 0x02, Params: []Param{
		ps("source", TypeUint8, semRTCSource),
		p("interval", TypeUint32),
	}},
	{Name: "set_ntc_control", ID: 0x03, Params: []Param{
		p("enable_index_0", TypeUint8),
		p("enable_index_1", TypeUint8),
		p("enable_index_2", TypeUint8),
		p("enable_index_3", TypeUint8),
		p("enable_index_4", TypeUint8),
		p("enable_index_5", TypeUint8),
		p("enable_index_6", TypeUint8),
		p("enable_index_7", TypeUint8),
	}},
	{Name: "set_temp_profile", ID: 0x04, Params: []Param{
		p("target_temp", TypeUint16),
		p("min_temp", TypeUint16),
		p("max_temp", TypeUint16),
		p("ntc_primary", TypeUint8),
		p("ntc_secondary", TypeUint8),
		ps("tec_actuator_num", TypeUint8, semActuatorMask),
		ps("heater_actuator_num", TypeUint8, semActuatorMask),
		p("tec_vol", TypeUint16),
		p("heater_duty", TypeUint8),
		p("auto_recover", TypeUint8),
	}},
	{Name: "start_temp_profile", ID: 0x05},
	{Name: "stop_temp_profile", ID: 0x06},
	{Name: "set_override_tec_profile", ID: 0x07, Params: []Param{
		p("interval", TypeUint16),
		p("tec_override_index", TypeUint8),
		p("tec_actuator_vol", TypeUint16),
	}},
	{Name: "start_override_tec_profile", ID: 0x08},
	{Name: "stop_override_tec_profile", ID: 0x09},
	{Name: "set_pda_profile", ID: 0x0A, Params: []Param{
		p("sampling_rate", TypeUint32),
		p("pre_laser_period", TypeUint16),
		p("in_sample_period", TypeUint16),
		p("pos_laser_period", TypeUint16),
	}},
	{Name: "set_camera_profile", ID: 0x0B, Params: []Param{
		ps("resolution", TypeUint8, semResolution),
		p("compress_enable", TypeUint8),
		p("exposure", TypeUint16),
		p("gain", TypeUint16),
	}},

	// Scattering-routine actions
	{Name: "set_dls_interval", ID: 0x11, Params: []Param{p("interval", TypeUint32)}},
	{Name: "set_laser_intensity", ID: 0x12, Params: []Param{p("intensity", TypeUint8)}},
	{Name: "set_position", ID: 0x13, Params: []Param{p("position", TypeUint8)}},
	{Name: "start_sample_cycle", ID: 0x14},
	{Name: "obc_get_sample", ID: 0x15},

	// Camera-routine actions
	{Name: "set_camera_interval", ID: 0x21, Params: []Param{p("interval", TypeUint32)}},
	{Name: "set_ext_laser_intensity", ID: 0x22, Params: []Param{p("intensity", TypeUint8)}},
	{Name: "turn_on_ext_laser", ID: 0x23, Params: []Param{ps("position", TypeUint8, semExtLaserMask)}},
	{Name: "set_camera_position", ID: 0x24, Params: []Param{p("cis_id", TypeUint8)}},
	{Name: "take_img_with_timeout", ID: 0x25},
	{Name: "turn_off_ext_laser", ID: 0x26},
}

var (
	actionsByName map[string]*ActionSpec
	actionsByID   map[byte]*ActionSpec
)

func init() {
	actionsByName = make(map[string]*ActionSpec, len(actions))
	actionsByID = make(map[byte]*ActionSpec, len(actions))
	for i := range actions {
		a := &actions[i]
		actionsByName[a.Name] = a
		actionsByID[a.ID] = a
	}
}

// ActionByName looks up an action spec by its script name
func ActionByName(name string) (*ActionSpec, bool) {
	a, ok := actionsByName[name]
	return a, ok
}

// ActionByID looks up an action spec by its wire ID
func ActionByID(id byte) (*ActionSpec, bool) {
	a, ok := actionsByID[id]
	return a, ok
}

// UnknownActionName is the placeholder name given to an action ID outside
// the catalog when decompiling
func UnknownActionName(id byte) string {
	return fmt.Sprintf("unknown_action_0x%02X", id)
}
