package extract

import (
	"encoding/json"
	"fmt"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

// unmarshalNavigation decodes the taxonomy payload. The site serves either a
// bare root node or a {"navigation": {...}} envelope.
func unmarshalNavigation(body []byte, root *catalog.NavigationNode) error {
	var envelope struct {
		Navigation *catalog.NavigationNode `json:"navigation"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Navigation != nil {
		*root = *envelope.Navigation
		return nil
	}
	if err := json.Unmarshal(body, root); err != nil {
		return fmt.Errorf("navigation payload: %w", err)
	}
	if root.ID == "" && len(root.Children) == 0 {
		return fmt.Errorf("navigation payload empty")
	}
	return nil
}
