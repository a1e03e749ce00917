package calibration

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/natefinch/atomic"
)

var csvHeader = []string{"PWM", "Left Velocity (cm/s)", "Right Velocity (cm/s)"}

func WriteCSV(w io.Writer, points []Point) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, point := range points {
		record := []string{
			strconv.Itoa(point.Pwm),
			strconv.FormatFloat(point.LeftVelocity, 'f', -1, 64),
			strconv.FormatFloat(point.RightVelocity, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func WriteJSON(w io.Writer, points []Point) error {
	data, err := json.MarshalIndent(points, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ExportCSV replaces the file at path with a CSV table of the points
func ExportCSV(path string, points []Point) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, points); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}

// ExportJSON replaces the file at path with an indented JSON array of the points
func ExportJSON(path string, points []Point) error {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, points); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}
