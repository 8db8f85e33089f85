package domain

// CatalogItem - данные каталога, нужные кассе. OnHand отражает текущий остаток на момент чтения.
type CatalogItem struct {
	ItemID       string
	Name         string
	PriceMinor   int64
	Currency     string
	OnHand       int64
	MinThreshold int64
}

// Customer - запись справочника клиентов.
type Customer struct {
	Ref  string
	Name string
}
