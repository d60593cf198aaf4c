package wsaa

import "context"

// TokenProvider adapts a Manager to clients that consume the raw
// token and sign pair.
type TokenProvider struct {
	Manager *Manager
}

func (p TokenProvider) GetTicket(ctx context.Context) (string, string, error) {
	t, err := p.Manager.GetTicket(ctx)
	if err != nil {
		return "", "", err
	}
	return t.Token, t.Sign, nil
}
