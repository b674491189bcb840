// Package videosource implements the webcam camera source.
package videosource

import (
	"context"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/driver/availability"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/visionarypath/sight/components/camera"
	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/utils"
)

// Kind is the source kind webcams are registered under.
const Kind = "webcam"

var errClosed = errors.New("camera has been closed")

func init() {
	camera.RegisterSource(Kind, func(
		ctx context.Context,
		conf camera.Config,
		facing camera.FacingMode,
		logger logging.Logger,
	) (camera.Source, error) {
		return NewWebcam(ctx, conf, facing, logger)
	})
}

// makeConstraints is a helper that returns constraints to mediadevices in order to find and make a video source.
// Constraints are specifications for the video stream such as frame format, resolution etc.
func makeConstraints(conf camera.Config, deviceID string, logger logging.Logger) mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Video: func(constraint *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				constraint.DeviceID = prop.StringExact(deviceID)
			}

			if conf.Width > 0 {
				constraint.Width = prop.IntExact(conf.Width)
			} else {
				constraint.Width = prop.IntRanged{Min: 0, Ideal: 640, Max: 4096}
			}

			if conf.Height > 0 {
				constraint.Height = prop.IntExact(conf.Height)
			} else {
				constraint.Height = prop.IntRanged{Min: 0, Ideal: 480, Max: 2160}
			}

			if conf.FrameRate > 0.0 {
				constraint.FrameRate = prop.FloatExact(conf.FrameRate)
			} else {
				constraint.FrameRate = prop.FloatRanged{Min: 0.0, Ideal: 30.0, Max: 140.0}
			}

			if conf.Format == "" {
				constraint.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatYUY2,
					frame.FormatUYVY,
					frame.FormatRGBA,
					frame.FormatMJPEG,
					frame.FormatNV12,
					frame.FormatNV21,
				}
			} else {
				constraint.FrameFormat = prop.FrameFormatExact(conf.Format)
			}

			if conf.Debug {
				logger.Debugf("constraints: %v", constraint)
			}
		},
	}
}

// findDriver returns the first video driver whose label contains label, or any video driver
// when label is empty.
func findDriver(label string) (driverutils.Driver, error) {
	drivers := driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
	for _, d := range drivers {
		if label == "" || strings.Contains(d.Info().Label, label) {
			return d, nil
		}
	}
	if label == "" {
		return nil, errors.New("found no webcams")
	}
	return nil, errors.Errorf("found no webcam with label %q among %d video drivers", label, len(drivers))
}

// openTrack finds a video device at path, or any device when path is empty, and opens a track on it.
func openTrack(conf camera.Config, path string, logger logging.Logger) (*mediadevices.VideoTrack, driverutils.Driver, error) {
	mediadevicescamera.Initialize()

	label := ""
	if path != "" {
		if resolvedPath, err := filepath.EvalSymlinks(path); err == nil {
			path = resolvedPath
		}
		label = filepath.Base(path)
	}
	driver, err := findDriver(label)
	if err != nil {
		return nil, nil, err
	}

	stream, err := mediadevices.GetUserMedia(makeConstraints(conf, driver.ID(), logger))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot open webcam %q", driver.Info().Label)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, nil, errors.Errorf("webcam %q has no video tracks", driver.Info().Label)
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		goutils.UncheckedError(tracks[0].Close())
		return nil, nil, utils.NewUnexpectedTypeError(&mediadevices.VideoTrack{}, tracks[0])
	}
	return track, driver, nil
}

// webcam is a video driver wrapper camera that ensures its underlying driver stays connected.
type webcam struct {
	mu     sync.RWMutex
	conf   camera.Config
	path   string
	facing camera.FacingMode

	track  *mediadevices.VideoTrack
	reader video.Reader
	driver driverutils.Driver

	closed       bool
	disconnected bool
	workers      utils.StoppableWorkers
	logger       logging.Logger
}

// NewWebcam opens the webcam configured for facing and starts monitoring its connection.
func NewWebcam(ctx context.Context, conf camera.Config, facing camera.FacingMode, logger logging.Logger) (camera.Source, error) {
	cam := &webcam{
		conf:   conf,
		path:   conf.PathFor(facing),
		facing: facing,
		logger: logger.Sublogger(string(facing)),
	}
	cam.mu.Lock()
	err := cam.reconnectCamera()
	cam.mu.Unlock()
	if err != nil {
		return nil, err
	}
	cam.logger.CDebugw(ctx, "webcam opened", "label", cam.driver.Info().Label)
	cam.workers = utils.NewStoppableWorkers(cam.monitor)
	return cam, nil
}

// isCameraConnected is a helper for monitoring connectivity to the driver.
func (c *webcam) isCameraConnected() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.driver == nil {
		return true, errors.New("no configured camera")
	}

	// only reports disconnects on linux
	_, err := driverutils.IsAvailable(c.driver)
	return !errors.Is(err, availability.ErrNoDevice), nil
}

// reconnectCamera tries to reconnect the camera to a driver that matches the config.
// Assumes a write lock is held.
func (c *webcam) reconnectCamera() error {
	if c.track != nil {
		c.logger.Debug("closing current camera")
		if err := c.track.Close(); err != nil {
			c.logger.Errorw("failed to close current camera", "error", err)
		}
		c.track = nil
		c.reader = nil
		c.driver = nil
	}

	track, driver, err := openTrack(c.conf, c.path, c.logger)
	if err != nil {
		return errors.Wrap(err, "failed to find camera")
	}

	c.track = track
	c.reader = track.NewReader(false)
	c.driver = driver
	c.disconnected = false
	return nil
}

// monitor watches the connection to the device and reconnects it when it goes away. It returns
// once the webcam is closed.
func (c *webcam) monitor(ctx context.Context) {
	const wait = 500 * time.Millisecond
	for {
		if !goutils.SelectContextOrWait(ctx, wait) {
			return
		}

		ok, err := c.isCameraConnected()
		if err != nil {
			c.logger.Debugw("cannot determine camera status", "error", err)
			continue
		}
		if ok {
			continue
		}

		c.mu.Lock()
		c.disconnected = true
		c.mu.Unlock()

		c.logger.Error("camera no longer connected; reconnecting")
		for {
			if !goutils.SelectContextOrWait(ctx, wait) {
				return
			}
			c.mu.Lock()
			err := c.reconnectCamera()
			c.mu.Unlock()
			if err != nil {
				c.logger.Debugw("failed to reconnect camera", "error", err)
				continue
			}
			c.logger.Infow("camera reconnected")
			break
		}
	}
}

// Read returns the latest frame. While the device is reconnecting it reports camera.ErrNotReady.
func (c *webcam) Read(ctx context.Context) (image.Image, func(), error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, nil, errClosed
	}
	if c.disconnected || c.reader == nil {
		return nil, nil, camera.ErrNotReady
	}
	img, release, err := c.reader.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "webcam read failed")
	}
	if release == nil {
		release = func() {}
	}
	return img, release, nil
}

func (c *webcam) Properties(ctx context.Context) (camera.Properties, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return camera.Properties{}, errClosed
	}

	props := camera.Properties{Width: c.conf.Width, Height: c.conf.Height, FrameRate: c.conf.FrameRate, Facing: c.facing}
	if (props.Width == 0 || props.Height == 0) && c.reader != nil && !c.disconnected {
		img, release, err := c.reader.Read()
		if err != nil {
			return camera.Properties{}, errors.Wrap(err, "cannot read frame size")
		}
		props.Width, props.Height = img.Bounds().Dx(), img.Bounds().Dy()
		if release != nil {
			release()
		}
	}
	return props, nil
}

func (c *webcam) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("webcam already closed")
	}
	c.closed = true
	c.mu.Unlock()
	c.workers.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return nil
	}
	return c.track.Close()
}
