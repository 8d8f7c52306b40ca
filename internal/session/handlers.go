package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/jluethi/TissueMAPS/internal/dispatcher"
	"github.com/jluethi/TissueMAPS/internal/geo"
	"github.com/jluethi/TissueMAPS/internal/layer"
	"github.com/jluethi/TissueMAPS/internal/pyramid"
	"github.com/jluethi/TissueMAPS/internal/util"
)

// Commands the host shell sends. Layer and view commands address a
// viewer by the id string :VIEWER:CREATE: returned.
const (
	CmdViewerCreate  = ":VIEWER:CREATE:"
	CmdViewerSelect  = ":VIEWER:SELECT:"
	CmdViewerClose   = ":VIEWER:CLOSE:"
	CmdChannelAdd    = ":LAYER:CHANNEL:ADD:"
	CmdChannelRemove = ":LAYER:CHANNEL:REMOVE:"
	CmdObjectsAdd    = ":LAYER:OBJECTS:ADD:"
	CmdMarkersAdd    = ":LAYER:MARKERS:ADD:"
	CmdVisualRemove  = ":LAYER:VISUAL:REMOVE:"
	CmdGoToObject    = ":VIEW:GOTO:OBJECT:"
	CmdStateSave     = ":STATE:SAVE:"
	CmdStateRestore  = ":STATE:RESTORE:"
	CmdStateList     = ":STATE:LIST:"
)

// RegisterHandlers wires every viewer command into the dispatcher.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(CmdViewerCreate, func(e dispatcher.Event) (any, error) { return s.handleViewerCreate(e.Args) })
	d.Register(CmdViewerSelect, func(e dispatcher.Event) (any, error) { return s.handleViewerSelect(e.Args) })
	d.Register(CmdViewerClose, func(e dispatcher.Event) (any, error) { return s.handleViewerClose(e.Args) })
	d.Register(CmdChannelAdd, func(e dispatcher.Event) (any, error) { return s.handleChannelAdd(e.Args) })
	d.Register(CmdChannelRemove, func(e dispatcher.Event) (any, error) { return s.handleChannelRemove(e.Args) })
	d.Register(CmdObjectsAdd, func(e dispatcher.Event) (any, error) { return s.handleObjectsAdd(e.Args) })
	d.Register(CmdMarkersAdd, func(e dispatcher.Event) (any, error) { return s.handleMarkersAdd(e.Args) })
	d.Register(CmdVisualRemove, func(e dispatcher.Event) (any, error) { return s.handleVisualRemove(e.Args) })
	d.Register(CmdGoToObject, func(e dispatcher.Event) (any, error) { return s.handleGoToObject(e.Args) })
	d.Register(CmdStateSave, func(e dispatcher.Event) (any, error) { return s.handleStateSave(e.Args) })
	d.Register(CmdStateRestore, func(e dispatcher.Event) (any, error) { return s.handleStateRestore(e.Args) })
	d.Register(CmdStateList, func(e dispatcher.Event) (any, error) { return s.handleStateList(e.Args) })
}

func (s *Service) writeLog(functionName, data, level string) {
	if s.deps.LogManager != nil {
		s.deps.LogManager.WriteLog(functionName, data, level)
	}
}

func (s *Service) parseViewerID(functionName, arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Invalid viewer id %q: %v`, arg, err), "ERROR")
		return uuid.Nil, fmt.Errorf("invalid viewer id %q: %w", arg, err)
	}
	return id, nil
}

// mapObject adapts a bare outline into a navigation target.
type mapObject struct {
	outline geom.Geometry
}

func (m mapObject) Outline() geom.Geometry { return m.outline }

func (s *Service) handleViewerCreate(data []string) (any, error) {
	functionName := CmdViewerCreate

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 1 || data[0] == "" {
		s.writeLog(functionName, `Missing experiment name`, "ERROR")
		return nil, fmt.Errorf("%s expects an experiment name", functionName)
	}

	inst, err := s.CreateViewer(context.Background(), data[0])
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error creating viewer: %v`, err), "ERROR")
		return nil, err
	}

	s.writeLog(functionName, fmt.Sprintf(`Viewer %s created for experiment %s`, inst.ViewerID(), data[0]), "INFO")
	return inst.ViewerID(), nil
}

func (s *Service) handleViewerSelect(data []string) (any, error) {
	functionName := CmdViewerSelect

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 1 {
		s.writeLog(functionName, `Missing viewer id`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}

	if err := s.SelectViewer(id); err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error selecting viewer: %v`, err), "ERROR")
		return nil, err
	}
	return "ok", nil
}

func (s *Service) handleViewerClose(data []string) (any, error) {
	functionName := CmdViewerClose

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 1 {
		s.writeLog(functionName, `Missing viewer id`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}

	if err := s.CloseViewer(id); err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error closing viewer: %v`, err), "ERROR")
		return nil, err
	}
	return "ok", nil
}

func (s *Service) handleChannelAdd(data []string) (any, error) {
	functionName := CmdChannelAdd

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 2 {
		s.writeLog(functionName, `Expected viewer id and channel config`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id and a channel config", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}
	inst, err := s.Viewer(id)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Unknown viewer: %v`, err), "ERROR")
		return nil, err
	}

	// unmarshal data[1]
	payload := struct {
		Name    string         `json:"name"`
		BaseURL string         `json:"baseUrl"`
		Width   int            `json:"width"`
		Height  int            `json:"height"`
		Visible *bool          `json:"visible"`
		Options map[string]any `json:"options"`
	}{}
	if err := json.Unmarshal([]byte(data[1]), &payload); err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error unmarshalling channel config: %v`, err), "ERROR")
		return nil, err
	}

	src := &pyramid.Source{
		Name:    payload.Name,
		BaseURL: payload.BaseURL,
		Width:   payload.Width,
		Height:  payload.Height,
	}
	if src.BaseURL == "" {
		src.BaseURL = s.tileURL(inst.Experiment(), payload.Name)
	}
	ch, err := layer.NewChannel(src, payload.Options)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error building channel layer: %v`, err), "ERROR")
		return nil, err
	}
	if payload.Visible != nil && !*payload.Visible {
		ch.SetVisible(false)
	}

	if _, err := inst.Viewport().AddChannelLayer(ch); err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error adding channel layer: %v`, err), "ERROR")
		return nil, err
	}

	s.writeLog(functionName, fmt.Sprintf(`Channel layer %s added to viewer %s`, payload.Name, data[0]), "INFO")
	return "ok", nil
}

func (s *Service) handleChannelRemove(data []string) (any, error) {
	functionName := CmdChannelRemove

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 2 {
		s.writeLog(functionName, `Expected viewer id and channel name`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id and a channel name", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}
	inst, err := s.Viewer(id)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Unknown viewer: %v`, err), "ERROR")
		return nil, err
	}

	for _, l := range inst.Viewport().ChannelLayers() {
		ch, ok := l.(*layer.Channel)
		if !ok || ch.Name() != data[1] {
			continue
		}
		if err := inst.Viewport().RemoveChannelLayer(l); err != nil {
			s.writeLog(functionName, fmt.Sprintf(`Error removing channel layer: %v`, err), "ERROR")
			return nil, err
		}
		s.writeLog(functionName, fmt.Sprintf(`Channel layer %s removed from viewer %s`, data[1], data[0]), "INFO")
		return "ok", nil
	}

	s.writeLog(functionName, fmt.Sprintf(`No channel layer named %s`, data[1]), "ERROR")
	return nil, fmt.Errorf("channel layer %q not found", data[1])
}

func (s *Service) handleObjectsAdd(data []string) (any, error) {
	functionName := CmdObjectsAdd

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 3 {
		s.writeLog(functionName, `Expected viewer id, layer name, and outlines`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id, a layer name, and outlines", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}
	inst, err := s.Viewer(id)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Unknown viewer: %v`, err), "ERROR")
		return nil, err
	}

	// unmarshal data[2]: one ring per object
	var rings [][][]float64
	if err := json.Unmarshal([]byte(data[2]), &rings); err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error unmarshalling outlines: %v`, err), "ERROR")
		return nil, err
	}
	polys := make([]geom.Polygon, 0, len(rings))
	for n, ring := range rings {
		xys := make([]geom.XY, len(ring))
		for i, coord := range ring {
			if len(coord) < 2 {
				s.writeLog(functionName, fmt.Sprintf(`Outline %d has a short coordinate`, n), "ERROR")
				return nil, fmt.Errorf("outline %d: coordinate %d has insufficient values", n, i)
			}
			xys[i] = geom.XY{X: coord[0], Y: coord[1]}
		}
		poly, err := geo.OutlinePolygon(xys)
		if err != nil {
			s.writeLog(functionName, fmt.Sprintf(`Error building outline %d: %v`, n, err), "ERROR")
			return nil, err
		}
		polys = append(polys, poly)
	}

	if _, err := inst.Viewport().AddVisualLayer(layer.NewObjectOutlines(data[1], polys)); err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error adding outline layer: %v`, err), "ERROR")
		return nil, err
	}

	s.writeLog(functionName, fmt.Sprintf(`Outline layer %s with %d objects added to viewer %s`, data[1], len(polys), data[0]), "INFO")
	return "ok", nil
}

func (s *Service) handleMarkersAdd(data []string) (any, error) {
	functionName := CmdMarkersAdd

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 3 {
		s.writeLog(functionName, `Expected viewer id, layer name, and points`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id, a layer name, and points", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}
	inst, err := s.Viewer(id)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Unknown viewer: %v`, err), "ERROR")
		return nil, err
	}

	xys, err := geo.ParsePoints(data[2])
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error parsing marker points: %v`, err), "ERROR")
		return nil, err
	}
	points := make([]geom.Point, len(xys))
	for i, xy := range xys {
		points[i] = geo.MarkerPoint(xy.X, xy.Y)
	}

	if _, err := inst.Viewport().AddVisualLayer(layer.NewMarkers(data[1], points)); err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error adding marker layer: %v`, err), "ERROR")
		return nil, err
	}

	s.writeLog(functionName, fmt.Sprintf(`Marker layer %s with %d points added to viewer %s`, data[1], len(points), data[0]), "INFO")
	return "ok", nil
}

func (s *Service) handleVisualRemove(data []string) (any, error) {
	functionName := CmdVisualRemove

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 2 {
		s.writeLog(functionName, `Expected viewer id and layer name`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id and a layer name", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}
	inst, err := s.Viewer(id)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Unknown viewer: %v`, err), "ERROR")
		return nil, err
	}

	for _, l := range inst.Viewport().VisualLayers() {
		vis, ok := l.(*layer.Visual)
		if !ok || vis.Name() != data[1] {
			continue
		}
		if err := inst.Viewport().RemoveVisualLayer(l); err != nil {
			s.writeLog(functionName, fmt.Sprintf(`Error removing visual layer: %v`, err), "ERROR")
			return nil, err
		}
		s.writeLog(functionName, fmt.Sprintf(`Visual layer %s removed from viewer %s`, data[1], data[0]), "INFO")
		return "ok", nil
	}

	s.writeLog(functionName, fmt.Sprintf(`No visual layer named %s`, data[1]), "ERROR")
	return nil, fmt.Errorf("visual layer %q not found", data[1])
}

func (s *Service) handleGoToObject(data []string) (any, error) {
	functionName := CmdGoToObject

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 2 {
		s.writeLog(functionName, `Expected viewer id and object outline`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id and an object outline", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}
	inst, err := s.Viewer(id)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Unknown viewer: %v`, err), "ERROR")
		return nil, err
	}

	ring, err := geo.ParseRing(data[1])
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error parsing object outline: %v`, err), "ERROR")
		return nil, err
	}
	poly, err := geo.OutlinePolygon(ring)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error building object outline: %v`, err), "ERROR")
		return nil, err
	}

	if err := inst.Viewport().GoToMapObject(mapObject{outline: poly.AsGeometry()}); err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error navigating to object: %v`, err), "ERROR")
		return nil, err
	}
	return "ok", nil
}

func (s *Service) handleStateSave(data []string) (any, error) {
	functionName := CmdStateSave

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 2 {
		s.writeLog(functionName, `Expected viewer id and label`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id and a label", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}

	snap, err := s.SaveViewState(context.Background(), id, data[1])
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error saving view state: %v`, err), "ERROR")
		return nil, err
	}

	s.writeLog(functionName, fmt.Sprintf(`View state %s saved for viewer %s`, snap.ID, data[0]), "INFO")
	return snap.ID.String(), nil
}

func (s *Service) handleStateRestore(data []string) (any, error) {
	functionName := CmdStateRestore

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	if len(data) < 2 {
		s.writeLog(functionName, `Expected viewer id and snapshot id`, "ERROR")
		return nil, fmt.Errorf("%s expects a viewer id and a snapshot id", functionName)
	}
	id, err := s.parseViewerID(functionName, data[0])
	if err != nil {
		return nil, err
	}
	snapID, err := uuid.Parse(data[1])
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Invalid snapshot id %q: %v`, data[1], err), "ERROR")
		return nil, fmt.Errorf("invalid snapshot id %q: %w", data[1], err)
	}

	if err := s.RestoreViewState(context.Background(), id, snapID); err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error restoring view state: %v`, err), "ERROR")
		return nil, err
	}

	s.writeLog(functionName, fmt.Sprintf(`View state %s restored for viewer %s`, data[1], data[0]), "INFO")
	return "ok", nil
}

func (s *Service) handleStateList(data []string) (any, error) {
	functionName := CmdStateList

	// fix received data
	for i, v := range data {
		data[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}

	viewerID := uuid.Nil
	if len(data) > 0 && data[0] != "" {
		id, err := s.parseViewerID(functionName, data[0])
		if err != nil {
			return nil, err
		}
		viewerID = id
	}

	metas, err := s.Snapshots(viewerID)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error listing snapshots: %v`, err), "ERROR")
		return nil, err
	}
	out, err := json.Marshal(metas)
	if err != nil {
		s.writeLog(functionName, fmt.Sprintf(`Error marshalling snapshot list: %v`, err), "ERROR")
		return nil, err
	}
	return string(out), nil
}
