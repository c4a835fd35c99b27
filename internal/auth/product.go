package auth

// Product identifies Jira or Bitbucket. It is the discriminator used to
// partition sites and credentials.
type Product struct {
	Key  string `json:"key" yaml:"key"`
	Name string `json:"name" yaml:"name"`
}

var (
	ProductJira      = Product{Key: "jira", Name: "Jira"}
	ProductBitbucket = Product{Key: "bitbucket", Name: "Bitbucket"}
)

// Products lists every known product, Jira first.
var Products = []Product{ProductJira, ProductBitbucket}

// ProductForKey returns the product with the given key.
func ProductForKey(key string) (Product, bool) {
	for _, p := range Products {
		if p.Key == key {
			return p, true
		}
	}
	return Product{}, false
}

func (p Product) String() string {
	return p.Name
}
