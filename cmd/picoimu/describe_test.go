package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/srg/picoimu/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func describeOutput(t *testing.T, format string) string {
	t.Helper()

	doc, err := buildDescription()
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, writeDescription(&out, doc, format))
	return out.String()
}

func TestDescribe_Text(t *testing.T) {
	expected := "" +
		"Advertising\n" +
		"  name:          PICO-IMU\n" +
		"  interval:      100ms, connectable\n" +
		"  data:          02 01 06\n" +
		"  scan response: 09 09 50 49 43 4F 2D 49 4D 55 11 07 9E CA DC 24 0E E5 A9 E0 93 F3 A3 B5 01 00 40 6E\n" +
		"\n" +
		"Attributes\n" +
		"  0x0001  service         6E400001-B5A3-F393-E0A9-E50E24DCCA9E\n" +
		"  0x0002  characteristic  6E400003-B5A3-F393-E0A9-E50E24DCCA9E  read,notify\n" +
		"  0x0003  value           6E400003-B5A3-F393-E0A9-E50E24DCCA9E  read,notify  (tx)\n" +
		"  0x0004  cccd            2902                                  (tx subscription)\n" +
		"  0x0005  characteristic  6E400002-B5A3-F393-E0A9-E50E24DCCA9E  write\n" +
		"  0x0006  value           6E400002-B5A3-F393-E0A9-E50E24DCCA9E  write  (rx)\n" +
		"\n" +
		"Packet (12 bytes, little-endian)\n" +
		"  [ 0] ax  int16 x1000 g\n" +
		"  [ 2] ay  int16 x1000 g\n" +
		"  [ 4] az  int16 x1000 g\n" +
		"  [ 6] gx  int16 x100  deg/s\n" +
		"  [ 8] gy  int16 x100  deg/s\n" +
		"  [10] gz  int16 x100  deg/s\n" +
		"  sample: ax 1.23\tay -0.50\taz 0.00\tgx 12\tgy -3\tgz 0\n" +
		"          D2 04 0C FE 03 00 B0 04 AC FE 00 00\n"

	testutils.NewTextAsserter(t).Assert(describeOutput(t, "text"), expected)
}

func TestDescribe_JSON(t *testing.T) {
	testutils.NewJSONAsserter(t).Assert(describeOutput(t, "json"), `{
		"advertising": {
			"name": "PICO-IMU",
			"interval": "100ms",
			"connectable": true,
			"data": "020106",
			"scan_response": "09095049434f2d494d5511079ecadc240ee5a9e093f3a3b50100406e"
		},
		"service": "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
		"attributes": [
			{"handle": 1, "kind": "service"},
			{"handle": 2, "kind": "characteristic", "properties": "read,notify"},
			{"handle": 3, "kind": "value", "uuid": "6E400003-B5A3-F393-E0A9-E50E24DCCA9E", "role": "tx"},
			{"handle": 4, "kind": "cccd", "uuid": "2902", "role": "tx subscription"},
			{"handle": 5, "kind": "characteristic", "properties": "write"},
			{"handle": 6, "kind": "value", "uuid": "6E400002-B5A3-F393-E0A9-E50E24DCCA9E", "role": "rx"}
		],
		"packet": {
			"size": 12,
			"fields": [
				{"name": "ax", "offset": 0, "scale": 1000, "unit": "g"},
				{"name": "ay", "offset": 2},
				{"name": "az", "offset": 4},
				{"name": "gx", "offset": 6, "scale": 100, "unit": "deg/s"},
				{"name": "gy", "offset": 8},
				{"name": "gz", "offset": 10}
			],
			"sample": "d2040cfe0300b004acfe0000"
		}
	}`)
}

func TestDescribe_JSONKeepsKeyOrder(t *testing.T) {
	out := describeOutput(t, "json")

	adv := strings.Index(out, `"advertising"`)
	attrs := strings.Index(out, `"attributes"`)
	pkt := strings.Index(out, `"packet"`)
	assert.True(t, adv < attrs && attrs < pkt, "sections out of order:\n%s", out)
}

func TestDescribe_YAML(t *testing.T) {
	var doc struct {
		Advertising struct {
			Name         string `yaml:"name"`
			ScanResponse string `yaml:"scan_response"`
		} `yaml:"advertising"`
		Attributes []struct {
			Handle int    `yaml:"handle"`
			Kind   string `yaml:"kind"`
		} `yaml:"attributes"`
		Packet struct {
			Size int `yaml:"size"`
		} `yaml:"packet"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(describeOutput(t, "yaml")), &doc))

	assert.Equal(t, "PICO-IMU", doc.Advertising.Name)
	assert.Len(t, doc.Advertising.ScanResponse, 56)
	require.Len(t, doc.Attributes, 6)
	assert.Equal(t, "cccd", doc.Attributes[3].Kind)
	assert.Equal(t, 4, doc.Attributes[3].Handle)
	assert.Equal(t, 12, doc.Packet.Size)
}

func TestDescribe_UnknownFormat(t *testing.T) {
	doc, err := buildDescription()
	require.NoError(t, err)

	err = writeDescription(&bytes.Buffer{}, doc, "xml")
	assert.ErrorContains(t, err, `unknown format "xml"`)
}
