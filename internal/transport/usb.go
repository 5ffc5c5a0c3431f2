//go:build !mips && !mipsle

package transport

import (
	"context"
	"time"

	"github.com/google/gousb"

	"github.com/shangdawei/go-adb-client/internal/adberr"
)

// ADB interface descriptor filter (spec §4.1, §6).
const (
	adbInterfaceClass    = 0xFF
	adbInterfaceSubClass = 0x42
	adbInterfaceProtocol = 0x01
)

// androidVendorIDs is the canonical Android-partner allow-list (spec §6).
// Probing is restricted to these vendors so the enumerator doesn't grab an
// unrelated FF/42/01 device that happens to share the descriptor shape.
var androidVendorIDs = []gousb.ID{
	0x18d1, // Google
	0x04e8, // Samsung
	0x0bb4, // HTC
	0x22b8, // Motorola
	0x1004, // LG
	0x0fce, // Sony
	0x12d1, // Huawei
	0x2717, // Xiaomi
	0x2a70, // OnePlus
	0x05c6, // Qualcomm (many OEM reference boards)
}

func isAndroidVendor(id gousb.ID) bool {
	for _, v := range androidVendorIDs {
		if v == id {
			return true
		}
	}
	return false
}

// usbTransport speaks to one claimed ADB interface over bulk endpoints.
type usbTransport struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	epOut   *gousb.OutEndpoint
	epIn    *gousb.InEndpoint
	timeout time.Duration
}

// OpenUSB enumerates attached USB devices, finds the first one exposing an
// ADB-shaped interface (class 0xFF, subclass 0x42, protocol 0x01, two bulk
// endpoints) behind a vendor id on the Android-partner allow-list, claims it,
// and returns a ready Transport. Grounded on the teacher's
// usb_device.go:OpenUSBDevice claim/config/endpoint sequence, generalized
// from one hardcoded VID/PID to the allow-list + interface-filter probe
// spec §4.1 and §6 require.
func OpenUSB() (Transport, error) {
	ctx := gousb.NewContext()

	var found *gousb.Device
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if found != nil {
			return false
		}
		if !isAndroidVendor(desc.Vendor) {
			return false
		}
		for _, cfg := range desc.Configs {
			for _, intf := range cfg.Interfaces {
				for _, alt := range intf.AltSettings {
					if alt.Class == adbInterfaceClass &&
						alt.SubClass == adbInterfaceSubClass &&
						alt.Protocol == adbInterfaceProtocol &&
						len(alt.Endpoints) == 2 {
						return true
					}
				}
			}
		}
		return false
	})
	if err != nil {
		ctx.Close()
		return nil, adberr.Wrap(adberr.KindIOError, "usb enumeration failed", err)
	}
	for _, d := range devs {
		if found == nil {
			found = d
		} else {
			d.Close()
		}
	}
	if found == nil {
		ctx.Close()
		return nil, adberr.New(adberr.KindNoDevice, "no ADB-capable USB device found")
	}

	cfgNum, err := found.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}
	cfg, err := found.Config(cfgNum)
	if err != nil {
		found.Close()
		ctx.Close()
		return nil, adberr.Wrap(adberr.KindIOError, "failed to set USB config", err)
	}

	intfNum, outAddr, inAddr, err := findADBInterface(found)
	if err != nil {
		cfg.Close()
		found.Close()
		ctx.Close()
		return nil, err
	}

	intf, err := cfg.Interface(intfNum, 0)
	if err != nil {
		cfg.Close()
		found.Close()
		ctx.Close()
		return nil, adberr.Wrap(adberr.KindIOError, "failed to claim ADB interface", err)
	}

	epOut, err := intf.OutEndpoint(outAddr)
	if err != nil {
		intf.Close()
		cfg.Close()
		found.Close()
		ctx.Close()
		return nil, adberr.Wrap(adberr.KindIOError, "failed to open OUT endpoint", err)
	}
	epIn, err := intf.InEndpoint(inAddr)
	if err != nil {
		intf.Close()
		cfg.Close()
		found.Close()
		ctx.Close()
		return nil, adberr.Wrap(adberr.KindIOError, "failed to open IN endpoint", err)
	}

	return &usbTransport{
		ctx:     ctx,
		dev:     found,
		cfg:     cfg,
		intf:    intf,
		epOut:   epOut,
		epIn:    epIn,
		timeout: DefaultTimeout,
	}, nil
}

func findADBInterface(dev *gousb.Device) (intfNum int, outAddr, inAddr gousb.EndpointAddress, err error) {
	for _, cfg := range dev.Desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class != adbInterfaceClass || alt.SubClass != adbInterfaceSubClass || alt.Protocol != adbInterfaceProtocol {
					continue
				}
				if len(alt.Endpoints) != 2 {
					continue
				}
				var out, in gousb.EndpointAddress
				var haveOut, haveIn bool
				for _, ep := range alt.Endpoints {
					if ep.Direction == gousb.EndpointDirectionOut {
						out = ep.Address
						haveOut = true
					} else {
						in = ep.Address
						haveIn = true
					}
				}
				if haveOut && haveIn {
					return intf.Number, out, in, nil
				}
			}
		}
	}
	return 0, 0, 0, adberr.New(adberr.KindNoDevice, "no interface matching ADB class/subclass/protocol with exactly two endpoints")
}

func (t *usbTransport) SetTimeout(d time.Duration) { t.timeout = d }

func (t *usbTransport) Send(buf []byte) error {
	_, err := t.epOut.Write(buf)
	if err != nil {
		return adberr.Wrap(adberr.KindIOError, "usb write failed", err)
	}
	return nil
}

func (t *usbTransport) Recv(maxLen int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	buf := make([]byte, maxLen)
	n, err := t.epIn.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, adberr.Wrap(adberr.KindTimeout, "usb read timed out", err)
		}
		return nil, adberr.Wrap(adberr.KindIOError, "usb read failed", err)
	}
	return buf[:n], nil
}

func (t *usbTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.cfg != nil {
		t.cfg.Close()
	}
	if t.dev != nil {
		t.dev.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}
