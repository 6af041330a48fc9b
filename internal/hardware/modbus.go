package hardware

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"

	"github.com/mattjoyce/telltale/internal/log"
	"github.com/mattjoyce/telltale/internal/prop"
	"github.com/mattjoyce/telltale/internal/schema"
)

// ModbusPoint maps one (property, area) to a modbus register.
type ModbusPoint struct {
	Prop      int32   `yaml:"prop"`
	Area      int32   `yaml:"area"`
	Address   uint16  `yaml:"address"`
	Register  string  `yaml:"register"`   // holding | input
	DataType  string  `yaml:"data_type"`  // int16 | uint16 | int32 | uint32 | float32
	ByteOrder string  `yaml:"byte_order"` // ABCD (default) | DCBA | BADC | CDAB
	Scale     float64 `yaml:"scale"`
	Offset    float64 `yaml:"offset"`
}

// ModbusConfig describes the bus connection and the register map.
type ModbusConfig struct {
	Protocol   string        `yaml:"protocol"` // tcp | rtu
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	SerialPort string        `yaml:"serial_port"`
	BaudRate   int           `yaml:"baud_rate"`
	DataBits   int           `yaml:"data_bits"`
	StopBits   int           `yaml:"stop_bits"`
	Parity     string        `yaml:"parity"`
	SlaveID    uint8         `yaml:"slave_id"`
	Timeout    time.Duration `yaml:"timeout"`
	Points     []ModbusPoint `yaml:"points"`
}

// handlerWithConn embeds mb.ClientHandler and exposes Connect/Close used for lifecycle.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// ModbusBridge serves properties from modbus registers. One worker owns the
// bus, so register access is serialized; the connection is opened lazily on
// first use and reopened once after an I/O error.
type ModbusBridge struct {
	schema *schema.Schema
	cfg    ModbusConfig
	logger *slog.Logger
	points map[valueKey]ModbusPoint

	jobs chan func()
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	handler   handlerWithConn
	connAddr  string
	client    mb.Client
	connected bool
}

// NewModbusBridge validates the register map against the schema and builds
// the bridge. Only scalar INT32 and FLOAT properties can sit behind
// registers.
func NewModbusBridge(s *schema.Schema, cfg ModbusConfig) (*ModbusBridge, error) {
	b := &ModbusBridge{
		schema: s,
		cfg:    cfg,
		logger: log.WithComponent("hardware.modbus"),
		points: make(map[valueKey]ModbusPoint, len(cfg.Points)),
		jobs:   make(chan func(), 32),
		quit:   make(chan struct{}),
	}

	for _, p := range cfg.Points {
		pcfg, ok := s.Lookup(p.Prop)
		if !ok {
			return nil, fmt.Errorf("modbus point 0x%x/%d: property not in schema", uint32(p.Prop), p.Area)
		}
		if pcfg.Type != prop.TypeInt32 && pcfg.Type != prop.TypeFloat {
			return nil, fmt.Errorf("modbus point 0x%x/%d: unsupported property type %s", uint32(p.Prop), p.Area, pcfg.Type)
		}
		if _, err := registerQuantity(p.DataType); err != nil {
			return nil, fmt.Errorf("modbus point 0x%x/%d: %w", uint32(p.Prop), p.Area, err)
		}
		key := valueKey{prop: p.Prop, area: p.Area}
		if _, dup := b.points[key]; dup {
			return nil, fmt.Errorf("modbus point 0x%x/%d: duplicate mapping", uint32(p.Prop), p.Area)
		}
		b.points[key] = p
	}

	h, addr, err := b.newHandler()
	if err != nil {
		return nil, err
	}
	b.handler = h
	b.connAddr = addr
	b.client = mb.NewClient(h)

	b.wg.Add(1)
	go b.worker()
	return b, nil
}

// newHandler creates and configures a handler for TCP or RTU based on config.
func (b *ModbusBridge) newHandler() (handlerWithConn, string, error) {
	proto := strings.ToLower(strings.TrimSpace(b.cfg.Protocol))
	timeout := b.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch proto {
	case "modbus-tcp", "tcp":
		address := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)
		h := mb.NewTCPClientHandler(address)
		h.Timeout = timeout
		h.SlaveId = b.cfg.SlaveID
		return h, address, nil
	case "modbus-rtu", "rtu":
		port := strings.TrimSpace(b.cfg.SerialPort)
		if port == "" {
			return nil, "", fmt.Errorf("serial_port is required for RTU")
		}
		h := mb.NewRTUClientHandler(port)
		if b.cfg.BaudRate > 0 {
			h.BaudRate = b.cfg.BaudRate
		}
		if b.cfg.DataBits > 0 {
			h.DataBits = b.cfg.DataBits
		}
		if b.cfg.StopBits > 0 {
			h.StopBits = b.cfg.StopBits
		}
		if p := strings.ToUpper(strings.TrimSpace(b.cfg.Parity)); p != "" {
			h.Parity = p
		}
		h.Timeout = timeout
		h.SlaveId = b.cfg.SlaveID
		return h, port, nil
	default:
		return nil, "", fmt.Errorf("protocol %s not implemented", b.cfg.Protocol)
	}
}

func (b *ModbusBridge) worker() {
	defer b.wg.Done()
	for {
		select {
		case job := <-b.jobs:
			job()
		case <-b.quit:
			return
		}
	}
}

// AllPropertyConfigs returns the schema's configs.
func (b *ModbusBridge) AllPropertyConfigs() ([]prop.Config, error) {
	return b.schema.All(), nil
}

// GetValuesAsync queues a read sub-batch against the bus.
func (b *ModbusBridge) GetValuesAsync(requests []prop.GetRequest, done GetDone) error {
	batch := make([]prop.GetRequest, len(requests))
	copy(batch, requests)

	return b.enqueue(func() {
		results := make([]prop.GetResult, 0, len(batch))
		for _, req := range batch {
			results = append(results, b.readOne(req))
		}
		done(results)
	})
}

// SetValuesAsync queues a write sub-batch against the bus.
func (b *ModbusBridge) SetValuesAsync(requests []prop.SetRequest, done SetDone) error {
	batch := make([]prop.SetRequest, len(requests))
	copy(batch, requests)

	return b.enqueue(func() {
		results := make([]prop.SetResult, 0, len(batch))
		for _, req := range batch {
			results = append(results, b.writeOne(req))
		}
		done(results)
	})
}

// Close stops the worker and closes the bus connection.
func (b *ModbusBridge) Close() error {
	b.once.Do(func() {
		close(b.quit)
	})
	b.wg.Wait()
	if b.connected {
		return b.handler.Close()
	}
	return nil
}

func (b *ModbusBridge) enqueue(job func()) error {
	select {
	case b.jobs <- job:
		return nil
	case <-b.quit:
		return prop.Errorf(prop.StatusInternalError, "modbus bridge is shut down")
	}
}

// ensureConnected opens the bus connection if it is not up yet. Only the
// worker goroutine calls this, so no locking is needed.
func (b *ModbusBridge) ensureConnected() error {
	if b.connected {
		return nil
	}
	if err := b.handler.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", b.connAddr, err)
	}
	b.connected = true
	return nil
}

// reconnect closes and reopens the handler after an I/O error.
func (b *ModbusBridge) reconnect() error {
	b.handler.Close()
	b.connected = false
	time.Sleep(200 * time.Millisecond)
	return b.ensureConnected()
}

func (b *ModbusBridge) readOne(req prop.GetRequest) prop.GetResult {
	point, ok := b.points[valueKey{prop: req.Value.Prop, area: req.Value.Area}]
	if !ok {
		return prop.GetResult{RequestID: req.RequestID, Status: prop.StatusNotAvailable}
	}
	if err := b.ensureConnected(); err != nil {
		b.logger.Error("bus unavailable", slog.String("error", err.Error()))
		return prop.GetResult{RequestID: req.RequestID, Status: prop.StatusInternalError}
	}

	raw, err := b.readRegisters(point)
	if err != nil {
		if recErr := b.reconnect(); recErr == nil {
			raw, err = b.readRegisters(point)
		}
	}
	if err != nil {
		b.logger.Error("register read failed",
			slog.String("error", err.Error()),
			slog.Int("address", int(point.Address)))
		return prop.GetResult{RequestID: req.RequestID, Status: prop.StatusInternalError}
	}

	scaled, err := decodeRegisters(raw, point.DataType, point.ByteOrder)
	if err != nil {
		return prop.GetResult{RequestID: req.RequestID, Status: prop.StatusInternalError}
	}
	scaled = applyScale(scaled, point)

	cfg, _ := b.schema.Lookup(req.Value.Prop)
	v := prop.Value{
		Prop:      req.Value.Prop,
		Area:      req.Value.Area,
		Payload:   payloadForReading(cfg.Type, scaled),
		Timestamp: time.Now().UnixNano(),
	}
	return prop.GetResult{RequestID: req.RequestID, Status: prop.StatusOK, Value: &v}
}

func (b *ModbusBridge) writeOne(req prop.SetRequest) prop.SetResult {
	point, ok := b.points[valueKey{prop: req.Value.Prop, area: req.Value.Area}]
	if !ok {
		return prop.SetResult{RequestID: req.RequestID, Status: prop.StatusNotAvailable}
	}
	if err := b.ensureConnected(); err != nil {
		b.logger.Error("bus unavailable", slog.String("error", err.Error()))
		return prop.SetResult{RequestID: req.RequestID, Status: prop.StatusInternalError}
	}

	cfg, _ := b.schema.Lookup(req.Value.Prop)
	raw, err := encodeRegisters(readingForPayload(cfg.Type, req.Value.Payload), point)
	if err != nil {
		return prop.SetResult{RequestID: req.RequestID, Status: prop.StatusInvalidArg}
	}

	err = b.writeRegisters(point, raw)
	if err != nil {
		if recErr := b.reconnect(); recErr == nil {
			err = b.writeRegisters(point, raw)
		}
	}
	if err != nil {
		b.logger.Error("register write failed",
			slog.String("error", err.Error()),
			slog.Int("address", int(point.Address)))
		return prop.SetResult{RequestID: req.RequestID, Status: prop.StatusInternalError}
	}
	return prop.SetResult{RequestID: req.RequestID, Status: prop.StatusOK}
}

func (b *ModbusBridge) readRegisters(point ModbusPoint) ([]byte, error) {
	qty, _ := registerQuantity(point.DataType)
	switch strings.ToLower(point.Register) {
	case "", "holding":
		return b.client.ReadHoldingRegisters(point.Address, qty)
	case "input":
		return b.client.ReadInputRegisters(point.Address, qty)
	default:
		return nil, fmt.Errorf("unsupported register type: %s", point.Register)
	}
}

func (b *ModbusBridge) writeRegisters(point ModbusPoint, raw []byte) error {
	switch strings.ToLower(point.Register) {
	case "", "holding":
		if len(raw) == 2 {
			_, err := b.client.WriteSingleRegister(point.Address, binary.BigEndian.Uint16(raw))
			return err
		}
		_, err := b.client.WriteMultipleRegisters(point.Address, uint16(len(raw)/2), raw)
		return err
	default:
		return fmt.Errorf("register type %s is not writable", point.Register)
	}
}

// registerQuantity returns how many 16-bit registers a data type occupies.
func registerQuantity(dataType string) (uint16, error) {
	switch strings.ToLower(dataType) {
	case "int16", "uint16":
		return 1, nil
	case "int32", "uint32", "float32":
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported data type: %s", dataType)
	}
}

// decodeRegisters turns raw register bytes into an unscaled reading.
func decodeRegisters(data []byte, dataType, byteOrder string) (float64, error) {
	switch strings.ToLower(dataType) {
	case "uint16":
		if len(data) < 2 {
			return 0, errors.New("insufficient data for uint16")
		}
		return float64(binary.BigEndian.Uint16(data[:2])), nil
	case "int16":
		if len(data) < 2 {
			return 0, errors.New("insufficient data for int16")
		}
		return float64(int16(binary.BigEndian.Uint16(data[:2]))), nil
	case "uint32":
		if len(data) < 4 {
			return 0, errors.New("insufficient data for uint32")
		}
		return float64(binary.BigEndian.Uint32(reorder32(data[:4], byteOrder))), nil
	case "int32":
		if len(data) < 4 {
			return 0, errors.New("insufficient data for int32")
		}
		return float64(int32(binary.BigEndian.Uint32(reorder32(data[:4], byteOrder)))), nil
	case "float32":
		if len(data) < 4 {
			return 0, errors.New("insufficient data for float32")
		}
		bits := binary.BigEndian.Uint32(reorder32(data[:4], byteOrder))
		return float64(math.Float32frombits(bits)), nil
	default:
		return 0, fmt.Errorf("unsupported data type: %s", dataType)
	}
}

// encodeRegisters turns a property reading into raw register bytes,
// unapplying scale and offset first.
func encodeRegisters(reading float64, point ModbusPoint) ([]byte, error) {
	v := unapplyScale(reading, point)
	switch strings.ToLower(point.DataType) {
	case "uint16":
		out := make([]byte, 2)
		binary.BigEndian.PutUint16(out, uint16(math.Round(v)))
		return out, nil
	case "int16":
		out := make([]byte, 2)
		binary.BigEndian.PutUint16(out, uint16(int16(math.Round(v))))
		return out, nil
	case "uint32":
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, uint32(math.Round(v)))
		return reorder32(out, point.ByteOrder), nil
	case "int32":
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, uint32(int32(math.Round(v))))
		return reorder32(out, point.ByteOrder), nil
	case "float32":
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, math.Float32bits(float32(v)))
		return reorder32(out, point.ByteOrder), nil
	default:
		return nil, fmt.Errorf("unsupported data type: %s", point.DataType)
	}
}

func applyScale(v float64, p ModbusPoint) float64 {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	return v*scale + p.Offset
}

func unapplyScale(v float64, p ModbusPoint) float64 {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	return (v - p.Offset) / scale
}

// payloadForReading converts a scaled reading into the payload arm the
// property's declared type expects.
func payloadForReading(t prop.Type, v float64) prop.Payload {
	switch t {
	case prop.TypeFloat:
		return prop.Floats(float32(v))
	default:
		return prop.Int32s(int32(math.Round(v)))
	}
}

// readingForPayload extracts the numeric reading from a validated write
// payload.
func readingForPayload(t prop.Type, p prop.Payload) float64 {
	switch t {
	case prop.TypeFloat:
		if len(p.FloatValues) > 0 {
			return float64(p.FloatValues[0])
		}
	default:
		if len(p.Int32Values) > 0 {
			return float64(p.Int32Values[0])
		}
	}
	return 0
}

// reorder32 returns a 4-byte slice reordered per byte-order string.
// Supported orders: "ABCD" (default), "DCBA", "BADC" (byte swap within words), "CDAB" (word swap).
func reorder32(in []byte, order string) []byte {
	var out [4]byte
	if len(in) < 4 {
		return append([]byte{}, in...)
	}
	switch strings.ToUpper(strings.TrimSpace(order)) {
	case "", "ABCD":
		copy(out[:], in[:4])
	case "DCBA":
		out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	case "BADC":
		out[0], out[1], out[2], out[3] = in[1], in[0], in[3], in[2]
	case "CDAB":
		out[0], out[1], out[2], out[3] = in[2], in[3], in[0], in[1]
	default:
		copy(out[:], in[:4])
	}
	return out[:]
}
