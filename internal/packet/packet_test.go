package packet

import (
	"math"
	"math/rand"
	"testing"

	"github.com/srg/picoimu/internal/imu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromReading(t *testing.T) {
	tests := []struct {
		name     string
		reading  imu.Reading
		expected [6]int16
	}{
		{
			name:     "reference reading",
			reading:  imu.Reading{AX: 1.234, AY: -0.5, AZ: 0.003, GX: 12.0, GY: -3.4, GZ: 0.0},
			expected: [6]int16{1234, -500, 3, 1200, -340, 0},
		},
		{
			name:     "at rest",
			reading:  imu.Reading{AZ: 1.0},
			expected: [6]int16{0, 0, 1000, 0, 0, 0},
		},
		{
			name:     "truncates toward zero",
			reading:  imu.Reading{AX: 0.0019, AY: -0.0019, GX: 0.019, GY: -0.019},
			expected: [6]int16{1, -1, 0, 1, -1, 0},
		},
		{
			name:     "saturates above range",
			reading:  imu.Reading{AX: 40.0, GX: 2000.0},
			expected: [6]int16{math.MaxInt16, 0, 0, math.MaxInt16, 0, 0},
		},
		{
			name:     "saturates below range",
			reading:  imu.Reading{AY: -40.0, GZ: -2000.0},
			expected: [6]int16{0, math.MinInt16, 0, 0, 0, math.MinInt16},
		},
		{
			name:     "NaN encodes as zero",
			reading:  imu.Reading{AX: math.NaN(), GX: math.Inf(1)},
			expected: [6]int16{0, 0, 0, math.MaxInt16, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FromReading(tt.reading).Fields())
		})
	}
}

func TestBytes_WireLayout(t *testing.T) {
	b := Encode(imu.Reading{AX: 1.234, AY: -0.5, AZ: 0.003, GX: 12.0, GY: -3.4, GZ: 0.0})

	require.Len(t, b, Size)
	assert.Equal(t, []byte{
		0xD2, 0x04, // 1234
		0x0C, 0xFE, // -500
		0x03, 0x00, // 3
		0xB0, 0x04, // 1200
		0xAC, 0xFE, // -340
		0x00, 0x00, // 0
	}, b)
}

func TestParse_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		p := Packet{
			AX: int16(rng.Intn(1 << 16)), AY: int16(rng.Intn(1 << 16)), AZ: int16(rng.Intn(1 << 16)),
			GX: int16(rng.Intn(1 << 16)), GY: int16(rng.Intn(1 << 16)), GZ: int16(rng.Intn(1 << 16)),
		}

		got, err := Parse(p.Bytes())
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
}

func TestParse_InvalidSize(t *testing.T) {
	for _, n := range []int{0, 11, 13, 24} {
		_, err := Parse(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidSize, "size %d", n)
	}
}

func TestReading(t *testing.T) {
	r := Packet{AX: 1234, AY: -500, AZ: 3, GX: 1200, GY: -340, GZ: 0}.Reading()

	assert.InDelta(t, 1.234, r.AX, 1e-9)
	assert.InDelta(t, -0.5, r.AY, 1e-9)
	assert.InDelta(t, 0.003, r.AZ, 1e-9)
	assert.InDelta(t, 12.0, r.GX, 1e-9)
	assert.InDelta(t, -3.4, r.GY, 1e-9)
	assert.InDelta(t, 0.0, r.GZ, 1e-9)
}

func BenchmarkEncode(b *testing.B) {
	r := imu.Reading{AX: 1.234, AY: -0.5, AZ: 0.003, GX: 12.0, GY: -3.4}
	buf := make([]byte, Size)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FromReading(r).Put(buf)
	}
}
