package xmpps2s

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/exavolt/xmpp-s2s/pkg/s2sconfig"
	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
	"github.com/exavolt/xmpp-s2s/pkg/xmppdialback"
	"github.com/exavolt/xmpp-s2s/pkg/xmppim"
)

// ErrNotRoutable is returned by Route for dialback elements, which belong
// to the stream they arrived on.
var ErrNotRoutable = errors.New("element is not routable")

// Registry is the part of *s2sconfig.Config the router and the gate need.
type Registry interface {
	Domain(name string) (*s2sconfig.Domain, error)
	Lookup(name string) (*s2sconfig.Domain, bool)
}

type Action int

const (
	// Deliver hands the element to the local session of the domain.
	Deliver Action = iota
	// Forward relays a copy of the element to another server.
	Forward
	// Bounce sends the error reply in Element back to the sender.
	Bounce
	// Drop discards the element.
	Drop
	// Reply sends the answer in Element back to the sender. Used for
	// requests addressed to a locally served domain.
	Reply
)

func (a Action) String() string {
	switch a {
	case Deliver:
		return "deliver"
	case Forward:
		return "forward"
	case Bounce:
		return "bounce"
	case Reply:
		return "reply"
	}
	return "drop"
}

// Decision is what to do with a routed element. Element is the element to
// send: the original for Deliver, the copy for Forward and the error reply
// for Bounce. Domain is the policy applied, nil when none was found.
type Decision struct {
	Action  Action
	Element xmppcore.Element
	Domain  *s2sconfig.Domain
}

type Router struct {
	registry Registry
}

func NewRouter(registry Registry) *Router {
	return &Router{registry: registry}
}

// Route decides the fate of an inbound stanza by the policy of its
// destination domain. The element is frozen first, so the document it was
// parsed from can be released as soon as Route returns.
func (r *Router) Route(el xmppcore.Element) (Decision, error) {
	switch el.(type) {
	case *xmppdialback.Result, *xmppdialback.Verify:
		return Decision{}, ErrNotRoutable
	}
	st := el.Base()
	if err := st.Freeze(); err != nil {
		return Decision{}, err
	}
	if st.To() == nil {
		return r.bounce(el, nil, xmppcore.NewStanzaException(
			xmppcore.StanzaErrorConditionBadRequest, "missing to address"))
	}

	to := st.To().Domain
	domain, err := r.registry.Domain(to)
	if err != nil {
		if errors.Is(err, s2sconfig.ErrDomainNotConfigured) {
			return r.bounce(el, nil, &xmppcore.StanzaException{
				Condition: xmppcore.StanzaErrorConditionRemoteServerNotFound,
			})
		}
		return Decision{}, err
	}
	if domain.Block() {
		return r.bounce(el, domain, &xmppcore.StanzaException{
			Condition: xmppcore.StanzaErrorConditionPolicyViolation,
		})
	}
	if domain.Forward() {
		fwd, err := forward(el)
		if err != nil {
			return Decision{}, err
		}
		decisionLog(st, Forward, domain).Debug("Routed")
		return Decision{Action: Forward, Element: fwd, Domain: domain}, nil
	}
	if iq, ok := el.(*xmppcore.IQ); ok && servesItself(domain, st.To()) {
		reply, handled, err := answerIQ(iq, domain)
		if err != nil {
			return Decision{}, err
		}
		if handled {
			decisionLog(st, Reply, domain).Debug("Routed")
			return Decision{Action: Reply, Element: reply, Domain: domain}, nil
		}
	}
	decisionLog(st, Deliver, domain).Debug("Routed")
	return Decision{Action: Deliver, Element: el, Domain: domain}, nil
}

// servesItself tells whether to is the bare address of a domain served by
// this process under its own policy.
func servesItself(domain *s2sconfig.Domain, to *xmppcore.JID) bool {
	return domain.TransportType() == s2sconfig.TransportInternal &&
		domain.Domain() == to.Domain && to.Local == "" && to.Resource == ""
}

// Reject bounces an element that could not be processed, typically one
// returned by Decode along with an error. Error stanzas are dropped.
func (r *Router) Reject(el xmppcore.Element, cause error) (Decision, error) {
	switch el.(type) {
	case *xmppdialback.Result, *xmppdialback.Verify:
		return Decision{}, ErrNotRoutable
	}
	if err := el.Base().Freeze(); err != nil {
		return Decision{}, err
	}
	return r.bounce(el, nil, cause)
}

func (r *Router) bounce(el xmppcore.Element, domain *s2sconfig.Domain, cause error) (Decision, error) {
	st := el.Base()
	if st.IsError() {
		decisionLog(st, Drop, domain).Debug("Not bouncing an error stanza")
		return Decision{Action: Drop, Domain: domain}, nil
	}
	reply, err := bounce(el, cause)
	if err != nil {
		return Decision{}, err
	}
	decisionLog(st, Bounce, domain).WithError(cause).Debug("Routed")
	return Decision{Action: Bounce, Element: reply, Domain: domain}, nil
}

func decisionLog(st *xmppcore.Stanza, action Action, domain *s2sconfig.Domain) *logrus.Entry {
	fields := logrus.Fields{
		"stanza": st.Name().Local,
		"id":     st.ID(),
		"action": action.String(),
	}
	if st.To() != nil {
		fields["to"] = st.To().String()
	}
	if domain != nil {
		fields["policy"] = domain.Domain()
	}
	return log.WithFields(fields)
}

// bounce keeps the kind of the element in the reply.
func bounce(el xmppcore.Element, cause error) (xmppcore.Element, error) {
	switch v := el.(type) {
	case *xmppim.Message:
		reply, err := v.CreateBounceFromError(cause)
		if err != nil {
			return nil, err
		}
		return reply, nil
	case *xmppim.Presence:
		reply, err := v.CreateBounceFromError(cause)
		if err != nil {
			return nil, err
		}
		return reply, nil
	case *xmppcore.IQ:
		reply, err := v.CreateBounceFromError(cause)
		if err != nil {
			return nil, err
		}
		return reply, nil
	}
	reply, err := el.Base().CreateBounceFromError(cause)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func forward(el xmppcore.Element) (xmppcore.Element, error) {
	switch v := el.(type) {
	case *xmppim.Message:
		fwd, err := v.CreateForward()
		if err != nil {
			return nil, err
		}
		return fwd, nil
	case *xmppim.Presence:
		fwd, err := v.CreateForward()
		if err != nil {
			return nil, err
		}
		return fwd, nil
	case *xmppcore.IQ:
		fwd, err := v.CreateForward()
		if err != nil {
			return nil, err
		}
		return fwd, nil
	}
	fwd, err := el.Base().CreateForward()
	if err != nil {
		return nil, err
	}
	return fwd, nil
}
