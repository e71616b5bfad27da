// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"fmt"
	"image"
	"sort"
	"sync"
)

// Geometry is a surface rectangle in desktop coordinates.
type Geometry struct {
	X, Y          int
	Width, Height int
}

// Rect returns the geometry as an image rectangle.
func (g Geometry) Rect() image.Rectangle {
	return image.Rect(g.X, g.Y, g.X+g.Width, g.Y+g.Height)
}

// Metadata is the window metadata mapping sent by the server.
type Metadata map[string]interface{}

// Title returns the window title.
func (m Metadata) Title() string {
	s, _ := toString(m["title"])
	return s
}

// Minimized reports whether the window is iconified.
func (m Metadata) Minimized() bool { return toBool(m["iconic"]) }

// Maximized reports whether the window is maximized.
func (m Metadata) Maximized() bool { return toBool(m["maximized"]) }

// Fullscreen reports whether the window covers the whole desktop.
func (m Metadata) Fullscreen() bool { return toBool(m["fullscreen"]) }

// TransientFor returns the parent surface id named by the metadata.
func (m Metadata) TransientFor() (int, bool) {
	v, ok := m["transient-for"]
	if !ok {
		return 0, false
	}
	id, ok := toInt(v)
	return id, ok && id > 0
}

// merge returns a copy of m updated with the keys of update.
func (m Metadata) merge(update Metadata) Metadata {
	out := make(Metadata, len(m)+len(update))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// SurfaceChange describes what a SurfaceUpdatedEvent changed.
type SurfaceChange int

const (
	// ChangeGeometry means the surface moved or was resized.
	ChangeGeometry SurfaceChange = 1 << iota
	// ChangeMetadata means window metadata keys were updated.
	ChangeMetadata
	// ChangeParentGeometry means an overlay's parent moved.
	ChangeParentGeometry
)

// SurfaceInfo is an immutable snapshot of a surface.
type SurfaceInfo struct {
	ID               int
	Parent           int
	OverrideRedirect bool
	Geometry         Geometry
	Metadata         Metadata
	Properties       map[string]interface{}
}

// Surface is one remote window or override-redirect overlay. Its fields
// are owned by the session goroutine; use Info for a snapshot.
type Surface struct {
	id               int
	parent           int
	overrideRedirect bool
	geometry         Geometry
	metadata         Metadata
	props            map[string]interface{}
	overlays         []int

	fb       *Framebuffer
	pipeline *PaintPipeline
}

// ID returns the server's surface id.
func (s *Surface) ID() int { return s.id }

// Parent returns the id of the window an overlay belongs to, or 0 for a
// top-level window.
func (s *Surface) Parent() int { return s.parent }

// OverrideRedirect reports whether the surface is an overlay such as a menu
// or tooltip.
func (s *Surface) OverrideRedirect() bool { return s.overrideRedirect }

// Geometry returns the surface rectangle in desktop coordinates.
func (s *Surface) Geometry() Geometry { return s.geometry }

// Metadata returns the current window metadata. Callers must not modify it.
func (s *Surface) Metadata() Metadata { return s.metadata }

// Framebuffer returns the surface's offscreen and visible rasters.
func (s *Surface) Framebuffer() *Framebuffer { return s.fb }

// Pipeline returns the paint pipeline that draws into the framebuffer.
func (s *Surface) Pipeline() *PaintPipeline { return s.pipeline }

// Info returns a snapshot of the surface.
func (s *Surface) Info() SurfaceInfo {
	return SurfaceInfo{
		ID:               s.id,
		Parent:           s.parent,
		OverrideRedirect: s.overrideRedirect,
		Geometry:         s.geometry,
		Metadata:         s.metadata.merge(nil),
		Properties:       s.ClientProperties(),
	}
}

// ClientProperties returns the properties sent with map-window and
// configure-window.
func (s *Surface) ClientProperties() map[string]interface{} {
	out := map[string]interface{}{
		"encodings.rgb_formats": []interface{}{"RGBX", "RGBA"},
	}
	for k, v := range s.props {
		out[k] = v
	}
	return out
}

// SurfaceRegistry maps server surface ids to surfaces. It is mutated only
// on the session goroutine; the lock lets other goroutines read it.
type SurfaceRegistry struct {
	mu        sync.RWMutex
	surfaces  map[int]*Surface
	env       *paintEnv
	validator *InputValidator
}

func newSurfaceRegistry(env *paintEnv) *SurfaceRegistry {
	env.ensureDefaults()
	return &SurfaceRegistry{
		surfaces:  make(map[int]*Surface),
		env:       env,
		validator: env.validator,
	}
}

// Get returns the live surface with id.
func (r *SurfaceRegistry) Get(id int) (*Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[id]
	return s, ok
}

// Len returns the number of live surfaces.
func (r *SurfaceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.surfaces)
}

// IDs returns the live surface ids in ascending order.
func (r *SurfaceRegistry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.surfaces))
	for id := range r.surfaces {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Info returns a snapshot of the surface with id. Unlike Surface.Info it
// may be called from any goroutine.
func (r *SurfaceRegistry) Info(id int) (SurfaceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[id]
	if !ok {
		return SurfaceInfo{}, false
	}
	return s.Info(), true
}

// Infos returns snapshots of every live surface, ordered by id.
func (r *SurfaceRegistry) Infos() []SurfaceInfo {
	ids := r.IDs()
	out := make([]SurfaceInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := r.Info(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// Overlays returns the ids of the live overlays of parent.
func (r *SurfaceRegistry) Overlays(parent int) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[parent]
	if !ok {
		return nil
	}
	out := make([]int, len(s.overlays))
	copy(out, s.overlays)
	return out
}

// Create adds a surface. An override-redirect surface must name a live
// parent through metadata["transient-for"].
func (r *SurfaceRegistry) Create(id int, geom Geometry, meta Metadata, props map[string]interface{}, overrideRedirect bool) (*Surface, error) {
	if err := r.validator.ValidateSurfaceID(id); err != nil {
		return nil, err
	}
	if err := r.validator.ValidateGeometry(geom); err != nil {
		return nil, err
	}
	meta = r.sanitize(meta)

	r.mu.Lock()
	if _, exists := r.surfaces[id]; exists {
		r.mu.Unlock()
		return nil, protocolError("SurfaceRegistry.Create", fmt.Sprintf("surface %d already exists", id), nil)
	}
	parent := 0
	if overrideRedirect {
		pid, ok := meta.TransientFor()
		if !ok {
			r.mu.Unlock()
			return nil, protocolError("SurfaceRegistry.Create",
				fmt.Sprintf("overlay %d has no transient-for parent", id), nil)
		}
		ps, ok := r.surfaces[pid]
		if !ok {
			r.mu.Unlock()
			return nil, protocolError("SurfaceRegistry.Create",
				fmt.Sprintf("overlay %d references unknown parent %d", id, pid), nil)
		}
		parent = pid
		ps.overlays = append(ps.overlays, id)
	}

	fb := NewFramebuffer(geom.Width, geom.Height)
	s := &Surface{
		id:               id,
		parent:           parent,
		overrideRedirect: overrideRedirect,
		geometry:         geom,
		metadata:         meta,
		props:            props,
		fb:               fb,
		pipeline:         newPaintPipeline(r.env, id, fb),
	}
	r.surfaces[id] = s
	r.mu.Unlock()

	r.env.emit(&SurfaceCreatedEvent{Surface: s.Info()})
	return s, nil
}

// Configure moves or resizes a surface. Overlays are told their parent's
// geometry changed.
func (r *SurfaceRegistry) Configure(id int, geom Geometry) (*Surface, error) {
	if err := r.validator.ValidateGeometry(geom); err != nil {
		return nil, err
	}

	r.mu.Lock()
	s, ok := r.surfaces[id]
	if !ok {
		r.mu.Unlock()
		return nil, protocolError("SurfaceRegistry.Configure", fmt.Sprintf("unknown surface %d", id), nil)
	}
	s.geometry = geom
	var overlays []*Surface
	for _, oid := range s.overlays {
		if o, ok := r.surfaces[oid]; ok {
			overlays = append(overlays, o)
		}
	}
	r.mu.Unlock()

	s.fb.Resize(geom.Width, geom.Height)
	r.env.emit(&SurfaceUpdatedEvent{Surface: s.Info(), Change: ChangeGeometry})
	for _, o := range overlays {
		r.env.emit(&SurfaceUpdatedEvent{Surface: o.Info(), Change: ChangeParentGeometry})
	}
	return s, nil
}

// Resize changes a surface's size and keeps its position.
func (r *SurfaceRegistry) Resize(id, width, height int) (*Surface, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, protocolError("SurfaceRegistry.Resize", fmt.Sprintf("unknown surface %d", id), nil)
	}
	g := s.Geometry()
	g.Width, g.Height = width, height
	return r.Configure(id, g)
}

// UpdateMetadata merges update into the surface metadata.
func (r *SurfaceRegistry) UpdateMetadata(id int, update Metadata) (*Surface, error) {
	update = r.sanitize(update)

	r.mu.Lock()
	s, ok := r.surfaces[id]
	if !ok {
		r.mu.Unlock()
		return nil, protocolError("SurfaceRegistry.UpdateMetadata", fmt.Sprintf("unknown surface %d", id), nil)
	}
	s.metadata = s.metadata.merge(update)
	r.mu.Unlock()

	r.env.emit(&SurfaceUpdatedEvent{Surface: s.Info(), Change: ChangeMetadata})
	return s, nil
}

// Remove destroys a surface and, first, every overlay bound to it. Each
// destroyed surface's paint pipeline is stopped, including in-flight
// decodes. It returns the ids removed.
func (r *SurfaceRegistry) Remove(id int, reason string) []int {
	r.mu.Lock()
	removed := r.removeLocked(id, nil)
	r.mu.Unlock()

	ids := make([]int, 0, len(removed))
	for _, s := range removed {
		s.pipeline.Close()
		ids = append(ids, s.id)
		r.env.emit(&SurfaceDestroyedEvent{ID: s.id, Parent: s.parent, Reason: reason})
	}
	return ids
}

func (r *SurfaceRegistry) removeLocked(id int, acc []*Surface) []*Surface {
	s, ok := r.surfaces[id]
	if !ok {
		return acc
	}
	delete(r.surfaces, id)
	for _, oid := range s.overlays {
		acc = r.removeLocked(oid, acc)
	}
	if p, ok := r.surfaces[s.parent]; ok {
		p.overlays = removeInt(p.overlays, id)
	}
	return append(acc, s)
}

// Clear destroys every surface.
func (r *SurfaceRegistry) Clear(reason string) {
	for _, id := range r.IDs() {
		r.Remove(id, reason)
	}
}

func (r *SurfaceRegistry) sanitize(meta Metadata) Metadata {
	if meta == nil {
		return Metadata{}
	}
	if title, ok := toString(meta["title"]); ok {
		if err := r.validator.ValidateTextData(title, MaxTitleLength); err != nil {
			r.env.logger.Debug("Sanitizing window title", Field{Key: "error", Value: err})
			out := meta.merge(nil)
			out["title"] = r.validator.SanitizeText(title)
			return out
		}
	}
	return meta
}

func removeInt(values []int, v int) []int {
	out := values[:0]
	for _, x := range values {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
