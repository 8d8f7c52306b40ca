package viewstate

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/jluethi/TissueMAPS/internal/surface"
)

type serializerFunc func(ctx context.Context) (ChannelConfig, error)

func (f serializerFunc) Serialize(ctx context.Context) (ChannelConfig, error) { return f(ctx) }

func namedSerializer(name string, delay time.Duration) LayerSerializer {
	return serializerFunc(func(ctx context.Context) (ChannelConfig, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ChannelConfig{}, ctx.Err()
			}
		}
		return ChannelConfig{Name: name, ImageSize: [2]int{100, 100}, Visible: true}, nil
	})
}

func TestCapturePreservesLayerOrder(t *testing.T) {
	// the first layer is the slowest; order must still match input order
	layers := []LayerSerializer{
		namedSerializer("dapi", 20*time.Millisecond),
		namedSerializer("gfp", 0),
		namedSerializer("actin", 5*time.Millisecond),
	}
	cam := surface.Camera{Zoom: 2, Resolution: 1, Center: geom.XY{X: 500, Y: -250}}

	vs, err := Capture(context.Background(), cam, layers)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	want := []string{"dapi", "gfp", "actin"}
	if len(vs.ChannelLayerOptions) != len(want) {
		t.Fatalf("got %d layers, want %d", len(vs.ChannelLayerOptions), len(want))
	}
	for i, name := range want {
		if vs.ChannelLayerOptions[i].Name != name {
			t.Errorf("layer %d = %q, want %q", i, vs.ChannelLayerOptions[i].Name, name)
		}
	}
	if vs.MapState.Zoom != 2 || vs.MapState.Center != [2]float64{500, -250} {
		t.Errorf("map state = %+v", vs.MapState)
	}
}

func TestCaptureFailsWhole(t *testing.T) {
	bad := errors.New("layer gone")
	slowCancelled := false
	layers := []LayerSerializer{
		serializerFunc(func(ctx context.Context) (ChannelConfig, error) {
			return ChannelConfig{}, bad
		}),
		serializerFunc(func(ctx context.Context) (ChannelConfig, error) {
			<-ctx.Done()
			slowCancelled = true
			return ChannelConfig{}, ctx.Err()
		}),
	}

	_, err := Capture(context.Background(), surface.Camera{}, layers)
	if !errors.Is(err, bad) {
		t.Fatalf("expected wrapped layer error, got %v", err)
	}
	if !slowCancelled {
		t.Error("pending serialization was not cancelled")
	}
}

func TestCaptureEmptyLayers(t *testing.T) {
	vs, err := Capture(context.Background(), surface.Camera{Zoom: 1}, nil)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if len(vs.ChannelLayerOptions) != 0 {
		t.Errorf("got %d layers, want 0", len(vs.ChannelLayerOptions))
	}
}

func TestCameraRoundTrip(t *testing.T) {
	cam := surface.Camera{Zoom: 3.5, Resolution: 0.25, Rotation: 1.57, Center: geom.XY{X: 10, Y: -20}}
	got := CameraFromMapState(MapStateFromCamera(cam))
	if got != cam {
		t.Errorf("round trip mismatch: %+v != %+v", got, cam)
	}
}

func TestViewStateJSONLayout(t *testing.T) {
	vs := ViewState{
		ChannelLayerOptions: []ChannelConfig{
			{Name: "dapi", ImageSize: [2]int{1000, 500}, Visible: true},
		},
		MapState: MapState{Zoom: 2, Center: [2]float64{500, -250}, Resolution: 1, Rotation: 0},
	}
	data, err := json.Marshal(vs)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"channelLayerOptions":[{"name":"dapi","imageSize":[1000,500],"visible":true}],` +
		`"mapState":{"zoom":2,"center":[500,-250],"resolution":1,"rotation":0}}`
	if string(data) != want {
		t.Errorf("layout drifted:\n got %s\nwant %s", data, want)
	}
}

func TestValidateState(t *testing.T) {
	valid := ViewState{
		ChannelLayerOptions: []ChannelConfig{{Name: "c", ImageSize: [2]int{10, 10}}},
		MapState:            MapState{Zoom: 1, Resolution: 2},
	}
	if err := ValidateState(valid); err != nil {
		t.Errorf("valid state rejected: %v", err)
	}

	if err := ValidateState(ViewState{MapState: valid.MapState}); !errors.Is(err, ErrNoChannelLayers) {
		t.Errorf("expected ErrNoChannelLayers, got %v", err)
	}

	nan := valid
	nan.MapState.Zoom = math.NaN()
	if err := ValidateState(nan); !errors.Is(err, ErrInvalidMapState) {
		t.Errorf("expected ErrInvalidMapState for NaN zoom, got %v", err)
	}

	inf := valid
	inf.MapState.Center[1] = math.Inf(-1)
	if err := ValidateState(inf); !errors.Is(err, ErrInvalidMapState) {
		t.Errorf("expected ErrInvalidMapState for infinite center, got %v", err)
	}

	neg := valid
	neg.MapState.Resolution = -1
	if err := ValidateState(neg); !errors.Is(err, ErrInvalidMapState) {
		t.Errorf("expected ErrInvalidMapState for negative resolution, got %v", err)
	}
}

func TestNewSnapshotStampsIdentity(t *testing.T) {
	state := ViewState{ChannelLayerOptions: []ChannelConfig{{Name: "c"}}}
	viewerID := uuid.New()
	snap := NewSnapshot(viewerID, "exp-07", "before gating", state)
	if snap.ID == uuid.Nil {
		t.Error("snapshot id not assigned")
	}
	if snap.ViewerID != viewerID {
		t.Errorf("viewer id = %v, want %v", snap.ViewerID, viewerID)
	}
	if snap.CreatedAt.IsZero() {
		t.Error("capture time not assigned")
	}
	if snap.Label != "before gating" || snap.Experiment != "exp-07" {
		t.Errorf("provenance mismatch: %+v", snap)
	}
}
