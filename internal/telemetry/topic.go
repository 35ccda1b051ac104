package telemetry

import (
	"fmt"
	"strings"
)

// Topic addresses one device+sensor feed on the bus.
func Topic(deviceID, sensorID string) string {
	return fmt.Sprintf("/v1/device/%s/sensor/%s/rawdata", deviceID, sensorID)
}

// ParseTopic extracts the device and sensor from a rawdata topic.
func ParseTopic(topic string) (deviceID, sensorID string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 7 || parts[0] != "" || parts[1] != "v1" ||
		parts[2] != "device" || parts[4] != "sensor" || parts[6] != "rawdata" {
		return "", "", fmt.Errorf("unexpected topic format %q", topic)
	}
	return parts[3], parts[5], nil
}
