// Package lora drives the RFM95W radio over SPI for short alert messages.
// Payloads are plain text, fire-and-forget; the receiving base station does
// its own logging.
package lora

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/icr-ctl/scrubcam/internal/logger"
)

// RFM95W registers (LoRa mode).
const (
	regFifo          = 0x00
	regOpMode        = 0x01
	regFrfMsb        = 0x06
	regFrfMid        = 0x07
	regFrfLsb        = 0x08
	regPaConfig      = 0x09
	regFifoAddrPtr   = 0x0D
	regFifoTxBase    = 0x0E
	regIrqFlags      = 0x12
	regPayloadLength = 0x22
)

// regOpMode values.
const (
	modeLongRange = 0x80
	modeSleep     = 0x00
	modeStandby   = 0x01
	modeTx        = 0x03
)

const irqTxDone = 0x08

// writeMask marks an SPI register address as a write.
const writeMask = 0x80

// maxPayload is the radio FIFO size; longer messages are truncated.
const maxPayload = 255

// txDoneWait bounds the post-transmit poll so a wedged radio cannot hang the
// dispatch loop forever.
const txDoneWait = 5 * time.Second

// frf915MHz is the 24-bit carrier frequency word for 915 MHz with the 32 MHz
// crystal (Frf = freq / 61.035 Hz).
var frf915MHz = [3]byte{0xE4, 0xC0, 0x00}

// Sender transmits short text alerts through an RFM95W module.
type Sender struct {
	port   spi.PortCloser
	conn   spi.Conn
	logger *logger.Logger
}

// NewSender opens the SPI port (empty name selects the platform default) and
// puts the radio into LoRa standby at 915 MHz.
func NewSender(portName string, log *logger.Logger) (*Sender, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", portName, err)
	}

	conn, err := port.Connect(5*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect to radio: %w", err)
	}

	s := &Sender{port: port, conn: conn, logger: log}
	if err := s.reset(); err != nil {
		port.Close()
		return nil, err
	}

	log.Info("LoRa radio initialized on %q", portName)
	return s, nil
}

// reset puts the radio into LoRa mode and programs the carrier frequency.
func (s *Sender) reset() error {
	steps := []struct {
		reg, val byte
	}{
		{regOpMode, modeLongRange | modeSleep},
		{regFrfMsb, frf915MHz[0]},
		{regFrfMid, frf915MHz[1]},
		{regFrfLsb, frf915MHz[2]},
		{regPaConfig, 0x8F}, // PA_BOOST, max power
		{regFifoTxBase, 0x00},
		{regOpMode, modeLongRange | modeStandby},
	}
	for _, step := range steps {
		if err := s.writeReg(step.reg, step.val); err != nil {
			return fmt.Errorf("failed to initialize radio: %w", err)
		}
	}
	return nil
}

// Send transmits one text payload and waits for the radio to finish.
func (s *Sender) Send(text string) error {
	payload := []byte(text)
	if len(payload) > maxPayload {
		payload = payload[:maxPayload]
	}

	if err := s.writeReg(regOpMode, modeLongRange|modeStandby); err != nil {
		return err
	}
	if err := s.writeReg(regFifoAddrPtr, 0x00); err != nil {
		return err
	}
	if err := s.writeBurst(regFifo, payload); err != nil {
		return err
	}
	if err := s.writeReg(regPayloadLength, byte(len(payload))); err != nil {
		return err
	}
	if err := s.writeReg(regOpMode, modeLongRange|modeTx); err != nil {
		return err
	}

	deadline := time.Now().Add(txDoneWait)
	for {
		flags, err := s.readReg(regIrqFlags)
		if err != nil {
			return err
		}
		if flags&irqTxDone != 0 {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("radio did not finish transmitting within %v", txDoneWait)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.writeReg(regIrqFlags, irqTxDone); err != nil {
		return err
	}

	s.logger.Info("LoRa sent: %q", text)
	return nil
}

// Close puts the radio to sleep and releases the SPI port.
func (s *Sender) Close() error {
	if err := s.writeReg(regOpMode, modeLongRange|modeSleep); err != nil {
		s.logger.Warning("Failed to sleep radio: %v", err)
	}
	return s.port.Close()
}

func (s *Sender) writeReg(reg, val byte) error {
	if err := s.conn.Tx([]byte{reg | writeMask, val}, nil); err != nil {
		return fmt.Errorf("failed to write register 0x%02X: %w", reg, err)
	}
	return nil
}

func (s *Sender) writeBurst(reg byte, data []byte) error {
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg|writeMask)
	w = append(w, data...)
	if err := s.conn.Tx(w, nil); err != nil {
		return fmt.Errorf("failed to write %d bytes to register 0x%02X: %w", len(data), reg, err)
	}
	return nil
}

func (s *Sender) readReg(reg byte) (byte, error) {
	r := make([]byte, 2)
	if err := s.conn.Tx([]byte{reg &^ writeMask, 0x00}, r); err != nil {
		return 0, fmt.Errorf("failed to read register 0x%02X: %w", reg, err)
	}
	return r[1], nil
}
