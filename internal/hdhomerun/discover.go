package hdhomerun

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
	"github.com/attaebra/hdhr-stream/internal/utils"
)

// DeviceInfo is the subset of discover.json the stream tools use.
type DeviceInfo struct {
	DeviceID        string `json:"DeviceID"`
	FriendlyName    string `json:"FriendlyName"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareVersion string `json:"FirmwareVersion"`
	TunerCount      int    `json:"TunerCount"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`

	host string
}

// Discover fetches the device description from host.
func Discover(client interfaces.Client, host string) (*DeviceInfo, error) {
	defer utils.TimeOperation("Discover device")()
	logger.Debug("📡 Fetching device description", logger.String("host", host))

	req, err := http.NewRequest(http.MethodGet, "http://"+host+"/discover.json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, utils.LogAndWrapError(err, "failed to connect to HDHomeRun at %s", host)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, utils.LogAndWrapError(fmt.Errorf("HTTP status %d", resp.StatusCode), "invalid response from HDHomeRun")
	}

	info := &DeviceInfo{host: host}
	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return nil, utils.LogAndWrapError(err, "failed to parse discovery response")
	}

	logger.Debug("✅ Discovered device",
		logger.String("device_id", info.DeviceID),
		logger.String("model", info.ModelNumber),
		logger.Int("tuners", info.TunerCount))
	return info, nil
}

// TunerIdentities returns "host-N" for every tuner of the device.
func (d *DeviceInfo) TunerIdentities() []string {
	ids := make([]string, d.TunerCount)
	for i := range ids {
		ids[i] = d.host + "-" + strconv.Itoa(i)
	}
	return ids
}
