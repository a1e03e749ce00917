package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Prefixes of the plain text messages sent by the robot controller
const (
	PrefixVelocityError       = "VEL_ERROR"
	PrefixCommandAck          = "COMMAND_ACK"
	PrefixCalibrationPoint    = "CALIBRATION_POINT"
	PrefixCalibrationComplete = "CALIBRATION_COMPLETE"
	PrefixCalibrationProgress = "CALIBRATION_PROGRESS"
	PrefixConfigData          = "CONFIG_DATA"
	PrefixConfigSaved         = "CONFIG_SAVED"
	PrefixConfigReset         = "CONFIG_RESET"
	PrefixConfigError         = "CONFIG_ERROR"
)

const (
	TypeWelcome = "welcome"
	TypeControl = "control"
	TypeLog     = "log"
)

var ErrMalformedMessage = errors.New("malformed message")

// Encoding distinguishes the two message families of the controller
type Encoding int

const (
	// EncodingJSON messages are JSON objects (telemetry, welcome, control, log)
	EncodingJSON Encoding = iota
	// EncodingText messages are colon/comma delimited text lines
	EncodingText
)

// Message is any inbound message of the robot controller.
// Use a type switch on the concrete types of this package.
type Message interface {
	Encoding() Encoding
	// Encode returns the wire representation of the message
	Encode() string
}

type Welcome struct {
	ClientId uint32
}

type Control struct {
	// 0 if nobody has control
	ControllingClientId uint32
}

type Log struct {
	Message string
}

type VelocityError struct {
	Left       float64
	Right      float64
	PidEnabled bool
}

type CommandAck struct {
	Command string
	Value   string
}

type CalibrationPoint struct {
	Pwm           int     `json:"pwm"`
	LeftVelocity  float64 `json:"leftVel"`
	RightVelocity float64 `json:"rightVel"`
}

type CalibrationComplete struct{}

type CalibrationProgress struct {
	Text string
	// -1 if the text does not contain a percentage
	Percent int
}

type ConfigData struct {
	Config RobotConfig
}

type ConfigSaved struct{}

// ConfigResetReply confirms that the robot restored its default configuration
type ConfigResetReply struct{}

type ConfigError struct {
	Reason string
}

func (Telemetry) Encoding() Encoding           { return EncodingJSON }
func (Welcome) Encoding() Encoding             { return EncodingJSON }
func (Control) Encoding() Encoding             { return EncodingJSON }
func (Log) Encoding() Encoding                 { return EncodingJSON }
func (VelocityError) Encoding() Encoding       { return EncodingText }
func (CommandAck) Encoding() Encoding          { return EncodingText }
func (CalibrationPoint) Encoding() Encoding    { return EncodingText }
func (CalibrationComplete) Encoding() Encoding { return EncodingText }
func (CalibrationProgress) Encoding() Encoding { return EncodingText }
func (ConfigData) Encoding() Encoding          { return EncodingText }
func (ConfigSaved) Encoding() Encoding         { return EncodingText }
func (ConfigResetReply) Encoding() Encoding    { return EncodingText }
func (ConfigError) Encoding() Encoding         { return EncodingText }

func mustMarshal(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// only plain structs of numbers and strings are marshalled here
		panic(err)
	}
	return string(data)
}

func (m Telemetry) Encode() string {
	return mustMarshal(m)
}

func (m Welcome) Encode() string {
	return mustMarshal(map[string]interface{}{"type": TypeWelcome, "clientId": m.ClientId})
}

func (m Control) Encode() string {
	return mustMarshal(map[string]interface{}{"type": TypeControl, "controllingClientId": m.ControllingClientId})
}

func (m Log) Encode() string {
	return mustMarshal(map[string]interface{}{"type": TypeLog, "message": m.Message})
}

func (m VelocityError) Encode() string {
	return fmt.Sprintf("%s:%s,%s,%t", PrefixVelocityError, formatFloat(m.Left, 2), formatFloat(m.Right, 2), m.PidEnabled)
}

func (m CommandAck) Encode() string {
	return PrefixCommandAck + ":" + m.Command + ":" + m.Value
}

func (m CalibrationPoint) Encode() string {
	return fmt.Sprintf("%s:%d,%s,%s", PrefixCalibrationPoint, m.Pwm, formatFloat(m.LeftVelocity, 2), formatFloat(m.RightVelocity, 2))
}

func (m CalibrationComplete) Encode() string {
	return PrefixCalibrationComplete
}

func (m CalibrationProgress) Encode() string {
	return PrefixCalibrationProgress + ":" + m.Text
}

func (m ConfigData) Encode() string {
	return PrefixConfigData + ":" + mustMarshal(m.Config)
}

func (m ConfigSaved) Encode() string {
	return PrefixConfigSaved
}

func (m ConfigResetReply) Encode() string {
	return PrefixConfigReset
}

func (m ConfigError) Encode() string {
	return PrefixConfigError + ":" + m.Reason
}

// envelope is the union of all JSON message shapes
type envelope struct {
	Type                string          `json:"type"`
	ClientId            *uint32         `json:"clientId"`
	ControllingClientId *uint32         `json:"controllingClientId"`
	Message             *string         `json:"message"`
	Left                *WheelTelemetry `json:"left"`
	Right               *WheelTelemetry `json:"right"`
	Battery             *float64        `json:"battery"`
	MotorLeft           *float64        `json:"motorLeft"`
	MotorRight          *float64        `json:"motorRight"`
	LeftVelError        *float64        `json:"leftVelError"`
	RightVelError       *float64        `json:"rightVelError"`
}

// Parse decodes a raw frame of the controller into one of the message types of this package.
// Frames that are neither a known JSON shape nor a known text line result in ErrMalformedMessage.
func Parse(raw string) (Message, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) <= 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}

	if strings.HasPrefix(raw, "{") {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err == nil {
			return parseJson(env, raw)
		}
	}

	return parseText(raw)
}

func parseJson(env envelope, raw string) (Message, error) {
	switch env.Type {
	case TypeWelcome:
		if env.ClientId == nil {
			return nil, fmt.Errorf("%w: welcome without clientId", ErrMalformedMessage)
		}
		return Welcome{ClientId: *env.ClientId}, nil
	case TypeControl:
		if env.ControllingClientId == nil {
			return nil, fmt.Errorf("%w: control without controllingClientId", ErrMalformedMessage)
		}
		return Control{ControllingClientId: *env.ControllingClientId}, nil
	case TypeLog:
		if env.Message == nil {
			return nil, fmt.Errorf("%w: log without message", ErrMalformedMessage)
		}
		return Log{Message: *env.Message}, nil
	case "":
		if env.Left != nil && env.Right != nil {
			return Telemetry{
				Left:               *env.Left,
				Right:              *env.Right,
				Battery:            env.Battery,
				MotorLeft:          env.MotorLeft,
				MotorRight:         env.MotorRight,
				LeftVelocityError:  env.LeftVelError,
				RightVelocityError: env.RightVelError,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown json message: %s", ErrMalformedMessage, raw)
}

var progressPercentPattern = regexp.MustCompile(`(-?\d+)%`)

func parseText(raw string) (Message, error) {
	prefix, payload, _ := strings.Cut(raw, ":")

	switch prefix {
	case PrefixVelocityError:
		parts := strings.Split(payload, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, raw)
		}
		left, err1 := strconv.ParseFloat(parts[0], 64)
		right, err2 := strconv.ParseFloat(parts[1], 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, raw, err)
		}
		return VelocityError{Left: left, Right: right, PidEnabled: parts[2] == "true"}, nil

	case PrefixCommandAck:
		command, value, found := strings.Cut(payload, ":")
		if !found || len(command) <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, raw)
		}
		return CommandAck{Command: command, Value: value}, nil

	case PrefixCalibrationPoint:
		parts := strings.Split(payload, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, raw)
		}
		pwm, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		left, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		right, err3 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, raw, err)
		}
		return CalibrationPoint{Pwm: pwm, LeftVelocity: left, RightVelocity: right}, nil

	case PrefixCalibrationComplete:
		return CalibrationComplete{}, nil

	case PrefixCalibrationProgress:
		progress := CalibrationProgress{Text: payload, Percent: -1}
		if match := progressPercentPattern.FindStringSubmatch(payload); match != nil {
			percent, err := strconv.Atoi(match[1])
			if err == nil {
				progress.Percent = percent
			}
		}
		return progress, nil

	case PrefixConfigData:
		var config RobotConfig
		if err := json.Unmarshal([]byte(payload), &config); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, raw, err)
		}
		return ConfigData{Config: config}, nil

	case PrefixConfigSaved:
		return ConfigSaved{}, nil

	case PrefixConfigReset:
		return ConfigResetReply{}, nil

	case PrefixConfigError:
		return ConfigError{Reason: payload}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, raw)
}
