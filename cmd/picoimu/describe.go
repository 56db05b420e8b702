package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/picoimu/internal/imu"
	"github.com/srg/picoimu/internal/packet"
	"github.com/srg/picoimu/internal/peripheral"
	"github.com/srg/picoimu/internal/stack/goble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// describeCmd represents the describe command
var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Print the GATT profile, advertising payloads and packet format",
	Long: `Prints what a central sees: the advertised name and payloads, the attribute
table with handles, and the layout of the notification packet with a sample.
No hardware is touched.`,
	Args: cobra.NoArgs,
	RunE: runDescribe,
}

var describeFormat string

func init() {
	describeCmd.Flags().StringVarP(&describeFormat, "format", "f", "text", "Output format (text, json, yaml)")
}

// sampleReading is the reading encoded in the describe sample packet.
var sampleReading = imu.Reading{AX: 1.234, AY: -0.5, AZ: 0.003, GX: 12.0, GY: -3.4, GZ: 0}

type packetField struct {
	name  string
	scale int
	unit  string
}

var packetFields = []packetField{
	{"ax", packet.AccelScale, "g"},
	{"ay", packet.AccelScale, "g"},
	{"az", packet.AccelScale, "g"},
	{"gx", packet.GyroScale, "deg/s"},
	{"gy", packet.GyroScale, "deg/s"},
	{"gz", packet.GyroScale, "deg/s"},
}

func runDescribe(cmd *cobra.Command, _ []string) error {
	doc, err := buildDescription()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	return writeDescription(cmd.OutOrStdout(), doc, describeFormat)
}

// buildDescription collects the device contract into an ordered document.
func buildDescription() (*orderedmap.OrderedMap[string, any], error) {
	sr, err := peripheral.ScanResponsePayload(peripheral.DeviceName, peripheral.ServiceUUID)
	if err != nil {
		return nil, err
	}
	reg, attrs := goble.Layout(peripheral.UARTService())
	h, err := peripheral.ResolveHandles(peripheral.Registration{reg})
	if err != nil {
		return nil, err
	}

	adv := orderedmap.New[string, any]()
	adv.Set("name", peripheral.DeviceName)
	adv.Set("interval", peripheral.DefaultAdvertiseInterval.String())
	adv.Set("connectable", true)
	adv.Set("data", hex.EncodeToString(peripheral.AdvertisingPayload()))
	adv.Set("scan_response", hex.EncodeToString(sr))

	table := make([]*orderedmap.OrderedMap[string, any], 0, len(attrs))
	for _, a := range attrs {
		row := orderedmap.New[string, any]()
		row.Set("handle", int(a.Handle))
		row.Set("kind", a.Kind.String())
		row.Set("uuid", attrUUID(a))
		if props := a.Properties.String(); props != "" {
			row.Set("properties", props)
		}
		if role := attrRole(a.Handle, h); role != "" {
			row.Set("role", role)
		}
		table = append(table, row)
	}

	fields := make([]*orderedmap.OrderedMap[string, any], 0, len(packetFields))
	for i, f := range packetFields {
		row := orderedmap.New[string, any]()
		row.Set("name", f.name)
		row.Set("offset", i*2)
		row.Set("type", "int16le")
		row.Set("scale", f.scale)
		row.Set("unit", f.unit)
		fields = append(fields, row)
	}

	sample := packet.FromReading(sampleReading)
	pkt := orderedmap.New[string, any]()
	pkt.Set("size", packet.Size)
	pkt.Set("fields", fields)
	pkt.Set("sample_reading", sampleReading.String())
	pkt.Set("sample", hex.EncodeToString(sample.Bytes()))

	doc := orderedmap.New[string, any]()
	doc.Set("advertising", adv)
	doc.Set("service", strings.ToUpper(peripheral.ServiceUUID.String()))
	doc.Set("attributes", table)
	doc.Set("packet", pkt)
	return doc, nil
}

func writeDescription(w io.Writer, doc *orderedmap.OrderedMap[string, any], format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		return writeText(w)
	default:
		return fmt.Errorf("unknown format %q (must be text, json, or yaml)", format)
	}
}

func writeText(w io.Writer) error {
	sr, err := peripheral.ScanResponsePayload(peripheral.DeviceName, peripheral.ServiceUUID)
	if err != nil {
		return err
	}
	reg, attrs := goble.Layout(peripheral.UARTService())
	h, err := peripheral.ResolveHandles(peripheral.Registration{reg})
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Advertising\n")
	fmt.Fprintf(&b, "  name:          %s\n", peripheral.DeviceName)
	fmt.Fprintf(&b, "  interval:      %s, connectable\n", peripheral.DefaultAdvertiseInterval)
	fmt.Fprintf(&b, "  data:          % X\n", peripheral.AdvertisingPayload())
	fmt.Fprintf(&b, "  scan response: % X\n", sr)
	fmt.Fprintf(&b, "\nAttributes\n")
	for _, a := range attrs {
		line := fmt.Sprintf("  0x%04X  %-14s  %-36s", a.Handle, a.Kind, attrUUID(a))
		if props := a.Properties.String(); props != "" && a.Kind != goble.AttrCCCD {
			line += "  " + props
		}
		if role := attrRole(a.Handle, h); role != "" {
			line += "  (" + role + ")"
		}
		fmt.Fprintln(&b, strings.TrimRight(line, " "))
	}

	sample := packet.FromReading(sampleReading)
	fmt.Fprintf(&b, "\nPacket (%d bytes, little-endian)\n", packet.Size)
	for i, f := range packetFields {
		fmt.Fprintf(&b, "  [%2d] %s  int16 x%-4d %s\n", i*2, f.name, f.scale, f.unit)
	}
	fmt.Fprintf(&b, "  sample: %s\n", sampleReading)
	fmt.Fprintf(&b, "          % X\n", sample.Bytes())

	_, err = io.WriteString(w, b.String())
	return err
}

func attrUUID(a goble.Attribute) string {
	if a.Kind == goble.AttrCCCD {
		return "2902"
	}
	return strings.ToUpper(a.UUID.String())
}

func attrRole(handle peripheral.Handle, h peripheral.Handles) string {
	switch handle {
	case h.TX:
		return "tx"
	case h.RX:
		return "rx"
	case h.CCCD:
		return "tx subscription"
	default:
		return ""
	}
}
