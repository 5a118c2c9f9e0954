package calib

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/fusion.record/internal/sensor"
)

// OusterMetadata is the subset of the Ouster ROS driver metadata JSON that
// ends up in LidarInformation.
type OusterMetadata struct {
	BeamIntrinsics struct {
		BeamAltitudeAngles        []float64 `json:"beam_altitude_angles"`
		BeamAzimuthAngles         []float64 `json:"beam_azimuth_angles"`
		LidarOriginToBeamOriginMM float64   `json:"lidar_origin_to_beam_origin_mm"`
	} `json:"beam_intrinsics"`
	LidarDataFormat struct {
		ColumnsPerFrame int `json:"columns_per_frame"`
		PixelsPerColumn int `json:"pixels_per_column"`
	} `json:"lidar_data_format"`
	ConfigParams struct {
		PhaseLockOffset int `json:"phase_lock_offset"`
	} `json:"config_params"`
	LidarIntrinsics struct {
		LidarToSensorTransform []float64 `json:"lidar_to_sensor_transform"`
	} `json:"lidar_intrinsics"`
	SensorInfo struct {
		ProdLine string `json:"prod_line"`
	} `json:"sensor_info"`
}

// ParseOusterMetadata decodes and sanity checks the metadata.
func ParseOusterMetadata(data []byte) (*OusterMetadata, error) {
	var m OusterMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode ouster metadata: %w", err)
	}
	bi := m.BeamIntrinsics
	if len(bi.BeamAltitudeAngles) != len(bi.BeamAzimuthAngles) {
		return nil, fmt.Errorf("ouster metadata: %d altitude angles but %d azimuth angles",
			len(bi.BeamAltitudeAngles), len(bi.BeamAzimuthAngles))
	}
	if n := m.LidarDataFormat.PixelsPerColumn; n != 0 && len(bi.BeamAltitudeAngles) != n {
		return nil, fmt.Errorf("ouster metadata: %d beams for %d pixels per column", len(bi.BeamAltitudeAngles), n)
	}
	if n := len(m.LidarIntrinsics.LidarToSensorTransform); n != 0 && n != 16 {
		return nil, fmt.Errorf("ouster metadata: lidar_to_sensor_transform has %d values, want 16", n)
	}
	return &m, nil
}

// ApplyTo copies the metadata into info. The product line only fills an
// empty model name.
func (m *OusterMetadata) ApplyTo(info *sensor.LidarInformation) {
	info.BeamAltitudeAngles = m.BeamIntrinsics.BeamAltitudeAngles
	info.BeamAzimuthAngles = m.BeamIntrinsics.BeamAzimuthAngles
	info.LidarOriginToBeamOriginMM = m.BeamIntrinsics.LidarOriginToBeamOriginMM
	info.HorizontalScanlines = m.LidarDataFormat.ColumnsPerFrame
	info.VerticalScanlines = m.LidarDataFormat.PixelsPerColumn
	info.PhaseLockOffset = m.ConfigParams.PhaseLockOffset
	if t := m.LidarIntrinsics.LidarToSensorTransform; len(t) == 16 {
		info.LidarToSensorTransform = sensor.NewMatrix(4, 4, t)
	}
	if info.ModelName == "" {
		info.ModelName = m.SensorInfo.ProdLine
	}
}
