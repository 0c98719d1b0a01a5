// Package biztypes holds the catalog of business type tokens accepted by the
// acquisition process.
package biztypes

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category groups leaf types. Categories without leaves are searchable on
// their own.
type Category struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`
}

var categories = []Category{
	{Name: "EatDrink", Types: []string{
		"Bars", "BarsGrillsAndPubs", "BelgianRestaurants",
		"BreweriesAndBrewPubs", "BritishRestaurants", "BuffetRestaurants",
		"CafeRestaurants", "CaribbeanRestaurants", "ChineseRestaurants",
		"CocktailLounges", "CoffeeAndTea", "Delicatessens", "DeliveryService",
		"Diners", "DiscountStores", "Donuts", "FastFood", "FrenchRestaurants",
		"FrozenYogurt", "GermanRestaurants", "GreekRestaurants", "Grocers",
		"Grocery", "HawaiianRestaurants", "HungarianRestaurants",
		"IceCreamAndFrozenDesserts", "IndianRestaurants", "ItalianRestaurants",
		"JapaneseRestaurants", "Juices", "KoreanRestaurants", "LiquorStores",
		"MexicanRestaurants", "MiddleEasternRestaurants", "Pizza",
		"PolishRestaurants", "PortugueseRestaurants", "Pretzels",
		"Restaurants", "RussianAndUkrainianRestaurants", "Sandwiches",
		"SeafoodRestaurants", "SpanishRestaurants", "SportsBars",
		"SteakHouseRestaurants", "Supermarkets", "SushiRestaurants",
		"TakeAway", "Taverns", "ThaiRestaurants", "TurkishRestaurants",
		"VegetarianAndVeganRestaurants", "VietnameseRestaurants",
	}},
	{Name: "SeeDo", Types: []string{
		"AmusementParks", "Attractions", "Carnivals", "Casinos",
		"LandmarksAndHistoricalSites", "MiniatureGolfCourses", "MovieTheaters",
		"Museums", "Parks", "SightseeingTours", "TouristInformation", "Zoos",
	}},
	{Name: "Shop", Types: []string{
		"AntiqueStores", "Bookstores", "CDAndRecordStores",
		"ChildrensClothingStores", "CigarAndTobaccoShops", "ComicBookStores",
		"DepartmentStores", "DiscountStores", "FleaMarketsAndBazaars",
		"FurnitureStores", "HomeImprovementStores", "JewelryAndWatchesStores",
		"KitchenwareStores", "LiquorStores", "MallsAndShoppingCenters",
		"MensClothingStores", "MusicStores", "OutletStores", "PetShops",
		"PetSupplyStores", "SchoolAndOfficeSupplyStores", "ShoeStores",
		"SportingGoodsStores", "ToyAndGameStores",
		"VitaminAndSupplementStores", "WomensClothingStores",
	}},
	{Name: "BanksAndCreditUnions"},
	{Name: "Hospitals"},
	{Name: "HotelsAndMotels"},
	{Name: "Parking"},
}

var (
	known = map[string]struct{}{}
	// lower-cased token -> canonical token
	folded = map[string]string{}
)

func init() {
	for _, c := range categories {
		add(c.Name)
		for _, t := range c.Types {
			add(t)
		}
	}
}

func add(tok string) {
	known[tok] = struct{}{}
	folded[strings.ToLower(tok)] = tok
}

// Categories returns a copy of the catalog in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	for i, c := range categories {
		out[i] = Category{Name: c.Name, Types: append([]string{}, c.Types...)}
		if out[i].Types == nil {
			out[i].Types = []string{}
		}
	}
	return out
}

// TopLevel returns the category names, used when a request names no types.
func TopLevel() []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, c.Name)
	}
	return out
}

func Valid(tok string) bool {
	_, ok := known[tok]
	return ok
}

// Canonical maps a token to its catalog spelling, ignoring case and
// whitespace.
func Canonical(tok string) (string, bool) {
	c, ok := folded[strings.ToLower(stripSpace(tok))]
	return c, ok
}

// Normalize canonicalizes and de-duplicates tokens keeping first-seen order.
// Empty tokens are skipped.
func Normalize(toks []string) ([]string, error) {
	out := make([]string, 0, len(toks))
	seen := make(map[string]struct{}, len(toks))
	var unknown []string
	for _, raw := range toks {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		c, ok := Canonical(raw)
		if !ok {
			unknown = append(unknown, raw)
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown business types: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// TitleCase strips whitespace and upper-cases the first rune while lower-casing
// the rest ("coffee shop" -> "Coffeeshop").
func TitleCase(s string) string {
	s = stripSpace(s)
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[n:])
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
