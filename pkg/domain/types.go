package domain

// Account is a registered reader. Identity is Account.
type Account struct {
	Account  string `json:"account"`
	Password string `json:"password,omitempty"`
	IconPath string `json:"iconPath,omitempty"`
}

// Book is a catalog entry. Identity is the (Name, Author) pair.
type Book struct {
	Name    string `json:"name" yaml:"name"`
	Author  string `json:"author" yaml:"author"`
	Brief   string `json:"brief" yaml:"brief"`
	ImgIcon string `json:"imgIcon" yaml:"imgIcon"`
	Price   int64  `json:"price" yaml:"price"`
}

// CartItem is a resolved cart entry: the referenced book and the score the
// reader assigned to it.
type CartItem struct {
	Book   Book  `json:"book"`
	Rating int64 `json:"rating"`
}
