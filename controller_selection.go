package goSession

import (
	"context"
	"errors"
	"fmt"
)

// RefreshOrganizations reloads the organization list. When no organization
// is selected and Session.AutoSelectOrganization is set, the first one is
// selected in the same transition, provided no selection happened while the
// list was in flight. The project list follows when the selected
// organization's projects are not loaded.
func (c *Controller) RefreshOrganizations(ctx context.Context) error {
	if err := c.begin(true); err != nil {
		return err
	}
	epoch, gen := c.authEpoch, c.selGen
	c.orgSeq++
	seq := c.orgSeq
	c.mu.Unlock()

	orgs, err := c.api.ListOrganizations(ctx)
	if err != nil {
		return err
	}
	if orgs == nil {
		orgs = []Organization{}
	}

	c.mu.Lock()
	if c.closed || c.authEpoch != epoch || seq < c.orgApplied {
		c.mu.Unlock()
		c.discarded("organizations")
		return nil
	}
	c.orgApplied = seq
	c.orgs = orgs

	var autoErr error
	auto := false
	if c.cfg.Session.AutoSelectOrganization && c.selGen == gen && len(orgs) > 0 && c.sel.Get().Organization == nil {
		org := orgs[0]
		if autoErr = c.sel.SetOrganization(ctx, &org); autoErr == nil {
			auto = true
			c.selGen++
			c.projects = nil
			c.projectsFor = ""
		}
	}
	cur := c.sel.Get().Organization
	loadProjects := cur != nil && c.projectsFor != cur.ID
	snap := c.publishLocked()
	c.mu.Unlock()
	c.flush()

	if autoErr != nil {
		return fmt.Errorf("auto-select organization: %w", autoErr)
	}
	if auto {
		c.metrics.Inc(MetricAutoSelected)
		c.metrics.Inc(MetricOrganizationSelected)
		c.emit(ctx, EventOrganizationSelected, snap, nil, map[string]string{"auto": "true"})
	}
	if loadProjects {
		return c.RefreshProjects(ctx)
	}
	return nil
}

// RefreshProjects reloads the project list of the selected organization and
// auto-selects the first project under the same rules as organizations.
// Without a selected organization the list is emptied.
func (c *Controller) RefreshProjects(ctx context.Context) error {
	if err := c.begin(true); err != nil {
		return err
	}
	org := c.sel.Get().Organization
	if org == nil {
		changed := c.projects != nil
		c.projects = nil
		c.projectsFor = ""
		if changed {
			c.publishLocked()
		}
		c.mu.Unlock()
		c.flush()
		return nil
	}
	selectedID := org.ID
	epoch, gen := c.authEpoch, c.selGen
	c.projSeq++
	seq := c.projSeq
	c.mu.Unlock()

	projects, err := c.api.ListProjects(ctx, selectedID)
	if err != nil {
		return err
	}
	if projects == nil {
		projects = []Project{}
	}

	c.mu.Lock()
	cur := c.sel.Get()
	if c.closed || c.authEpoch != epoch || cur.Organization == nil || cur.Organization.ID != selectedID || seq < c.projApplied {
		c.mu.Unlock()
		c.discarded("projects")
		return nil
	}
	c.projApplied = seq
	c.projects = projects
	c.projectsFor = selectedID

	var autoErr error
	auto := false
	if c.cfg.Session.AutoSelectProject && c.selGen == gen && len(projects) > 0 && cur.Project == nil {
		p := projects[0]
		if autoErr = c.sel.SetProject(ctx, &p); autoErr == nil {
			auto = true
			c.selGen++
		}
	}
	snap := c.publishLocked()
	c.mu.Unlock()
	c.flush()

	if autoErr != nil {
		return fmt.Errorf("auto-select project: %w", autoErr)
	}
	if auto {
		c.metrics.Inc(MetricAutoSelected)
		c.metrics.Inc(MetricProjectSelected)
		c.emit(ctx, EventProjectSelected, snap, nil, map[string]string{"auto": "true"})
	}
	return nil
}

// SelectOrganization persists org, clears the project and its list, and
// reloads projects for the new organization. A nil org deselects. The
// selection stays committed when the project reload fails; its error is
// returned. A failed write that still lost the project publishes that.
func (c *Controller) SelectOrganization(ctx context.Context, org *Organization) error {
	if err := c.begin(true); err != nil {
		return err
	}
	var next *Organization
	if org != nil {
		o := *org
		next = &o
	}
	hadProject := c.sel.Get().Project != nil
	if err := c.sel.SetOrganization(ctx, next); err != nil {
		if hadProject && c.sel.Get().Project == nil {
			c.selGen++
			c.publishLocked()
		}
		c.mu.Unlock()
		c.flush()
		return fmt.Errorf("select organization: %w", err)
	}
	c.selGen++
	c.projects = nil
	c.projectsFor = ""
	snap := c.publishLocked()
	c.mu.Unlock()
	c.flush()

	c.metrics.Inc(MetricOrganizationSelected)
	c.emit(ctx, EventOrganizationSelected, snap, nil, nil)
	if next == nil {
		return nil
	}
	return c.RefreshProjects(ctx)
}

// SelectProject persists p, which must be in the loaded project list of the
// selected organization. The list's copy of the project is stored. A nil p
// deselects.
func (c *Controller) SelectProject(ctx context.Context, p *Project) error {
	if err := c.begin(true); err != nil {
		return err
	}
	org := c.sel.Get().Organization
	if org == nil {
		c.mu.Unlock()
		return ErrNoOrganization
	}

	var next *Project
	if p != nil {
		if c.projectsFor == org.ID {
			for i := range c.projects {
				if c.projects[i].ID == p.ID {
					found := c.projects[i]
					next = &found
					break
				}
			}
		}
		if next == nil {
			c.mu.Unlock()
			return ErrProjectNotInOrganization
		}
	}

	if err := c.sel.SetProject(ctx, next); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("select project: %w", err)
	}
	c.selGen++
	snap := c.publishLocked()
	c.mu.Unlock()
	c.flush()

	c.metrics.Inc(MetricProjectSelected)
	c.emit(ctx, EventProjectSelected, snap, nil, nil)
	return nil
}

// Revalidate confirms the restored session against the API by reloading the
// organization list, bounded by Session.RevalidateTimeout. An expired session
// is torn down through the normal renewal path.
func (c *Controller) Revalidate(ctx context.Context) error {
	if t := c.cfg.Session.RevalidateTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return c.RefreshOrganizations(ctx)
}

// Resync re-reads storage after an external change, such as another process
// signing out or switching organization, and publishes when the visible
// session changed.
func (c *Controller) Resync(ctx context.Context) error {
	if err := c.begin(false); err != nil {
		return err
	}
	before := c.sel.Get()
	if err := errors.Join(c.creds.Reload(ctx), c.sel.Reload(ctx)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("resync: %w", err)
	}
	cred, after := c.creds.Get(), c.sel.Get()

	reloadProjects := false
	switch {
	case !cred.Authenticated() || after.User == nil:
		prev := c.snapshotLocked()
		changed, err := c.teardownLocked(ctx)
		c.mu.Unlock()
		c.flush()
		if changed && before.User != nil {
			c.emit(ctx, EventLogout, prev, err, map[string]string{"external": "true"})
		}
		return err
	case before.User == nil || before.User.ID != after.User.ID:
		c.resetListsLocked()
		c.authEpoch++
		c.selGen++
		c.publishLocked()
	case orgID(before.Organization) != orgID(after.Organization):
		c.selGen++
		c.projects = nil
		c.projectsFor = ""
		c.publishLocked()
		reloadProjects = after.Organization != nil
	case projectID(before.Project) != projectID(after.Project) || *before.User != *after.User:
		c.selGen++
		c.publishLocked()
	}
	c.mu.Unlock()
	c.flush()

	if reloadProjects {
		return c.RefreshProjects(ctx)
	}
	return nil
}

func (c *Controller) discarded(list string) {
	c.metrics.Inc(MetricStaleResultDiscarded)
	c.log.Debug().Str("list", list).Msg("stale list result discarded")
}

func orgID(o *Organization) string {
	if o == nil {
		return ""
	}
	return o.ID
}

func projectID(p *Project) string {
	if p == nil {
		return ""
	}
	return p.ID
}
