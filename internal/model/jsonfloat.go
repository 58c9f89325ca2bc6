package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// jsonFloat encodes non-finite values as the strings "+Inf", "-Inf" and
// "NaN"; a perfect reconstruction has infinite PSNR.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

func (m TaskMetric) MarshalJSON() ([]byte, error) {
	type alias TaskMetric
	return json.Marshal(struct {
		alias
		SSIM jsonFloat `json:"ssim"`
		PSNR jsonFloat `json:"psnr"`
	}{alias: alias(m), SSIM: jsonFloat(m.SSIM), PSNR: jsonFloat(m.PSNR)})
}

func (m *TaskMetric) UnmarshalJSON(data []byte) error {
	type alias TaskMetric
	var wire struct {
		alias
		SSIM jsonFloat `json:"ssim"`
		PSNR jsonFloat `json:"psnr"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = TaskMetric(wire.alias)
	m.SSIM = float64(wire.SSIM)
	m.PSNR = float64(wire.PSNR)
	return nil
}

func (m ModeResult) MarshalJSON() ([]byte, error) {
	type alias ModeResult
	return json.Marshal(struct {
		alias
		MeanSSIM jsonFloat `json:"mean_ssim"`
		MeanPSNR jsonFloat `json:"mean_psnr"`
	}{alias: alias(m), MeanSSIM: jsonFloat(m.MeanSSIM), MeanPSNR: jsonFloat(m.MeanPSNR)})
}

func (m *ModeResult) UnmarshalJSON(data []byte) error {
	type alias ModeResult
	var wire struct {
		alias
		MeanSSIM jsonFloat `json:"mean_ssim"`
		MeanPSNR jsonFloat `json:"mean_psnr"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = ModeResult(wire.alias)
	m.MeanSSIM = float64(wire.MeanSSIM)
	m.MeanPSNR = float64(wire.MeanPSNR)
	return nil
}
